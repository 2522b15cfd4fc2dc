package agent

import (
	"errors"
	"sync"
)

// ErrWorkerBusy is returned when a worker already has an execution in flight.
var ErrWorkerBusy = errors.New("worker is busy")

// WorkerLocks provides per-worker mutual exclusion. Each worker code gets its
// own mutex, so different workers execute concurrently while a single worker
// never runs two tasks at once.
type WorkerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWorkerLocks creates an empty lock set.
func NewWorkerLocks() *WorkerLocks {
	return &WorkerLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *WorkerLocks) get(code string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[code]
	if !ok {
		m = &sync.Mutex{}
		l.locks[code] = m
	}
	return m
}

// TryLock acquires the worker's mutex without waiting. It returns
// ErrWorkerBusy when another execution holds it.
func (l *WorkerLocks) TryLock(code string) error {
	if !l.get(code).TryLock() {
		return ErrWorkerBusy
	}
	return nil
}

// Unlock releases the worker's mutex. Unlocking an unknown worker is a no-op.
func (l *WorkerLocks) Unlock(code string) {
	l.mu.Lock()
	m, ok := l.locks[code]
	l.mu.Unlock()
	if ok {
		m.Unlock()
	}
}
