// Package health keeps failing workers out of rotation for a while and
// repairs worker and task state that got stuck.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Decision is the answer to an admission query.
type Decision struct {
	Allowed bool
	Wait    time.Duration
	Reason  string
}

// Tracker is the failure-based admission gate. Workers are never banned:
// the worst case is a fixed cooldown after which the record resets.
type Tracker interface {
	RecordSuccess(worker string)
	RecordFailure(worker string)
	ShouldExecute(worker string) Decision
	Failures(worker string) int
	Clear(worker string)
}

// Config tunes the tracker.
type Config struct {
	InitialBackoff   time.Duration // window after the first failure
	MaxBackoff       time.Duration
	FailureThreshold int // consecutive failures that trigger the cooldown
	Cooldown         time.Duration
}

// DefaultConfig returns 2s doubling to 5m, and a 10m cooldown at 5 failures.
func DefaultConfig() Config {
	return Config{
		InitialBackoff:   2 * time.Second,
		MaxBackoff:       5 * time.Minute,
		FailureThreshold: 5,
		Cooldown:         10 * time.Minute,
	}
}

// Record is the failure state of one worker.
type Record struct {
	Count       int
	LastFailure time.Time
	Backoff     time.Duration

	policy *backoff.ExponentialBackOff
}

// MemoryTracker keeps records in process memory.
type MemoryTracker struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	records map[string]*Record
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker(cfg Config) *MemoryTracker {
	def := DefaultConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &MemoryTracker{
		cfg:     cfg,
		now:     time.Now,
		records: make(map[string]*Record),
	}
}

// SetClock overrides the time source.
func (t *MemoryTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// newPolicy builds a deterministic doubling window: no jitter, no elapsed
// time limit.
func (t *MemoryTracker) newPolicy() *backoff.ExponentialBackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = t.cfg.InitialBackoff
	p.MaxInterval = t.cfg.MaxBackoff
	p.Multiplier = 2
	p.RandomizationFactor = 0
	p.MaxElapsedTime = 0
	p.Reset()
	return p
}

// RecordSuccess forgets the worker's failures.
func (t *MemoryTracker) RecordSuccess(worker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, worker)
}

// RecordFailure counts a failure and widens the backoff window.
func (t *MemoryTracker) RecordFailure(worker string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[worker]
	if !ok {
		rec = &Record{policy: t.newPolicy()}
		t.records[worker] = rec
	}
	rec.Count++
	rec.LastFailure = t.now()
	rec.Backoff = rec.policy.NextBackOff()
}

// ShouldExecute reports whether the worker may run now.
func (t *MemoryTracker) ShouldExecute(worker string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[worker]
	if !ok {
		return Decision{Allowed: true}
	}
	elapsed := t.now().Sub(rec.LastFailure)

	if rec.Count >= t.cfg.FailureThreshold {
		if elapsed < t.cfg.Cooldown {
			wait := t.cfg.Cooldown - elapsed
			return Decision{
				Wait:   wait,
				Reason: fmt.Sprintf("extended cooldown: %d consecutive failures, wait %s", rec.Count, wait.Round(time.Second)),
			}
		}
		delete(t.records, worker)
		return Decision{Allowed: true}
	}

	if elapsed < rec.Backoff {
		wait := rec.Backoff - elapsed
		return Decision{
			Wait:   wait,
			Reason: fmt.Sprintf("backoff: %d consecutive failures, wait %s", rec.Count, wait.Round(time.Second)),
		}
	}
	return Decision{Allowed: true}
}

// Failures returns the consecutive failure count.
func (t *MemoryTracker) Failures(worker string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[worker]; ok {
		return rec.Count
	}
	return 0
}

// Clear drops the worker's record.
func (t *MemoryTracker) Clear(worker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, worker)
}

// Snapshot returns a copy of a worker's record.
func (t *MemoryTracker) Snapshot(worker string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[worker]
	if !ok {
		return Record{}, false
	}
	return Record{Count: rec.Count, LastFailure: rec.LastFailure, Backoff: rec.Backoff}, true
}
