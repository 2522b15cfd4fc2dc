package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/hq/internal/backend"
)

func TestQuotaGuardObserve(t *testing.T) {
	boom := errors.New("boom")
	limited := fmt.Errorf("claude: %w", backend.ErrRateLimited)

	tests := []struct {
		name      string
		policy    QuotaTrip
		processed int
		completed int
		failures  []error
		want      bool
	}{
		{"nothing dispatched", TripAllFailed, 0, 0, nil, false},
		{"all failed", TripAllFailed, 2, 0, []error{boom, limited}, true},
		{"one succeeded", TripAllFailed, 2, 1, []error{boom}, false},
		{"rate limited policy, mixed errors", TripRateLimited, 2, 0, []error{boom, limited}, false},
		{"rate limited policy, all limited", TripRateLimited, 2, 0, []error{limited, limited}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewQuotaGuard(tt.policy, 20*time.Minute, nil)
			if got := g.Observe(tt.processed, tt.completed, tt.failures); got != tt.want {
				t.Errorf("Observe = %v, want %v", got, tt.want)
			}
			if suppressed, _ := g.Suppressed(); suppressed != tt.want {
				t.Errorf("Suppressed = %v, want %v", suppressed, tt.want)
			}
		})
	}
}

func TestQuotaGuardCooldown(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	g := NewQuotaGuard(TripAllFailed, 20*time.Minute, func() time.Time { return now })

	g.Trip()
	now = now.Add(5 * time.Minute)
	suppressed, left := g.Suppressed()
	if !suppressed || left != 15*time.Minute {
		t.Fatalf("Suppressed = %v, %s; want true, 15m", suppressed, left)
	}

	now = now.Add(15 * time.Minute)
	if suppressed, _ := g.Suppressed(); suppressed {
		t.Error("guard still suppressed after the cooldown")
	}

	g.Trip()
	g.Reset()
	if suppressed, _ := g.Suppressed(); suppressed {
		t.Error("Reset did not clear the trip")
	}
}

func TestParseQuotaTrip(t *testing.T) {
	for name, want := range map[string]QuotaTrip{
		"":             TripAllFailed,
		"all_failed":   TripAllFailed,
		"rate_limited": TripRateLimited,
	} {
		got, err := ParseQuotaTrip(name)
		if err != nil || got != want {
			t.Errorf("ParseQuotaTrip(%q) = %q, %v", name, got, err)
		}
	}
	if _, err := ParseQuotaTrip("sometimes"); err == nil {
		t.Error("expected an error for an unknown policy")
	}
}

func TestFailureReason(t *testing.T) {
	tests := map[string]error{
		"rate_limited":   fmt.Errorf("x: %w", backend.ErrRateLimited),
		"empty_response": fmt.Errorf("x: %w", backend.ErrEmptyResponse),
		"timeout":        fmt.Errorf("x: %w", context.DeadlineExceeded),
		"error":          errors.New("exit status 2"),
	}
	for want, err := range tests {
		if got := failureReason(err); got != want {
			t.Errorf("failureReason(%v) = %s, want %s", err, got, want)
		}
	}
}
