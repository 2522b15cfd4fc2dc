package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/hq/internal/backend"
)

// QuotaTrip selects when a tick counts as a provider outage.
type QuotaTrip string

const (
	// TripAllFailed trips when every dispatched task failed and none
	// succeeded, whatever the cause.
	TripAllFailed QuotaTrip = "all_failed"
	// TripRateLimited trips only when every failure was a rate-limit error.
	TripRateLimited QuotaTrip = "rate_limited"
)

// ParseQuotaTrip validates a policy name. Empty means TripAllFailed.
func ParseQuotaTrip(name string) (QuotaTrip, error) {
	switch QuotaTrip(name) {
	case "", TripAllFailed:
		return TripAllFailed, nil
	case TripRateLimited:
		return TripRateLimited, nil
	}
	return "", fmt.Errorf("unknown quota trip policy %q", name)
}

// QuotaGuard suppresses scheduled ticks for a cooldown after a tick whose
// dispatches all failed. It is a heuristic breaker: manual ticks ignore it.
type QuotaGuard struct {
	mu        sync.Mutex
	policy    QuotaTrip
	cooldown  time.Duration
	now       func() time.Time
	trippedAt time.Time
}

// NewQuotaGuard creates a guard.
func NewQuotaGuard(policy QuotaTrip, cooldown time.Duration, now func() time.Time) *QuotaGuard {
	if policy == "" {
		policy = TripAllFailed
	}
	if now == nil {
		now = time.Now
	}
	return &QuotaGuard{policy: policy, cooldown: cooldown, now: now}
}

// Observe inspects the outcome of a tick and trips the guard when the
// policy matches. failures holds the error of every failed dispatch. It
// reports whether the guard tripped.
func (g *QuotaGuard) Observe(processed, completed int, failures []error) bool {
	if processed == 0 || completed > 0 || len(failures) != processed {
		return false
	}
	if g.policy == TripRateLimited {
		for _, err := range failures {
			if !errors.Is(err, backend.ErrRateLimited) {
				return false
			}
		}
	}
	g.Trip()
	return true
}

// Trip starts the cooldown now.
func (g *QuotaGuard) Trip() {
	g.mu.Lock()
	g.trippedAt = g.now()
	g.mu.Unlock()
}

// Reset ends the cooldown.
func (g *QuotaGuard) Reset() {
	g.mu.Lock()
	g.trippedAt = time.Time{}
	g.mu.Unlock()
}

// Suppressed reports whether scheduled ticks are still suppressed and for
// how long. An elapsed cooldown clears the trip.
func (g *QuotaGuard) Suppressed() (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.trippedAt.IsZero() {
		return false, 0
	}
	elapsed := g.now().Sub(g.trippedAt)
	if elapsed >= g.cooldown {
		g.trippedAt = time.Time{}
		return false, 0
	}
	return true, g.cooldown - elapsed
}
