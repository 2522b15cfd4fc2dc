// Package app wires the engine together from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/aristath/hq/internal/agent"
	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/budget"
	"github.com/aristath/hq/internal/comms"
	"github.com/aristath/hq/internal/config"
	"github.com/aristath/hq/internal/events"
	"github.com/aristath/hq/internal/health"
	"github.com/aristath/hq/internal/learning"
	"github.com/aristath/hq/internal/metrics"
	"github.com/aristath/hq/internal/orchestrator"
	"github.com/aristath/hq/internal/persistence"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
	"github.com/aristath/hq/internal/scheduler"
)

// App holds every long-lived component of a running engine.
type App struct {
	Config       *config.Config
	Store        *persistence.SQLiteStore
	Bus          *events.EventBus
	Procs        *backend.ProcessManager
	Breakers     *backend.BreakerRegistry
	Router       *backend.Router
	Queue        *queue.Queue
	Roster       *roster.Roster
	Governor     *budget.Governor
	Tracker      *health.MemoryTracker
	Healer       *health.Healer
	Comms        *comms.Bus
	Learner      *learning.Learner
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler

	closeOnce sync.Once
	closeErr  error
}

// Option adjusts how an App is built.
type Option func(*options)

type options struct {
	store    *persistence.SQLiteStore
	backends map[string]backend.Backend
}

// WithStore uses an already open store instead of opening cfg.Store.Path.
// The App takes ownership and closes it.
func WithStore(s *persistence.SQLiteStore) Option {
	return func(o *options) { o.store = s }
}

// WithBackend replaces the provider built for a route name.
func WithBackend(route string, b backend.Backend) Option {
	return func(o *options) {
		if o.backends == nil {
			o.backends = make(map[string]backend.Backend)
		}
		o.backends[route] = b
	}
}

// New builds the engine: opens the store, seeds the roster, restores
// today's spend and wires providers, comms, learning, planning and the
// scheduler onto one event bus.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		var err error
		store, err = persistence.NewSQLiteStore(ctx, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	a := &App{
		Config: cfg,
		Store:  store,
		Bus:    events.NewEventBus(),
		Procs:  backend.NewProcessManager(),
	}
	if err := a.wire(ctx, o.backends); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, overrides map[string]backend.Backend) error {
	cfg := a.Config

	a.Queue = queue.New(a.Store)
	a.Roster = roster.New(a.Store)
	workers, err := cfg.Roster()
	if err != nil {
		return err
	}
	if err := a.Roster.Seed(ctx, workers); err != nil {
		return fmt.Errorf("seed roster: %w", err)
	}

	a.Governor = budget.New(cfg.Budget.Governor(), budget.WithLedger(a.Store))
	if err := a.Governor.Restore(ctx); err != nil {
		return fmt.Errorf("restore budget: %w", err)
	}

	if err := a.wireProviders(overrides); err != nil {
		return err
	}

	a.Tracker = health.NewMemoryTracker(cfg.Health.Tracker())
	a.Healer = health.NewHealer(a.Roster, a.Queue, a.Tracker, cfg.Health.Healer())
	a.Comms = comms.New(a.Store, a.Roster, a.Queue, a.Router, a.Bus)
	a.Learner = learning.New(a.Queue, a.Roster, a.Comms, a.Bus)

	a.Orchestrator = orchestrator.New(cfg.Generation, a.Queue, a.Roster, a.Comms, a.Router, a.Store,
		orchestrator.WithEvents(a.Bus))
	for _, t := range cfg.Pipelines {
		if err := a.Orchestrator.RegisterTemplate(t); err != nil {
			return fmt.Errorf("pipeline %s: %w", t.Key, err)
		}
	}

	executor := agent.NewExecutor(a.Router, a.Governor, a.Queue, cfg.Agent)
	a.Scheduler = scheduler.New(cfg.Tick, scheduler.Deps{
		Store:    a.Store,
		Tasks:    a.Queue,
		Workers:  a.Roster,
		Budget:   a.Governor,
		Tracker:  a.Tracker,
		Healer:   a.Healer,
		Executor: executor,
		Planner:  a.Orchestrator,
		Learner:  a.Learner,
		Events:   a.Bus,
	})
	return nil
}

// wireProviders builds one resilient backend per route a worker or the
// default uses, then gives every worker its chain. A route that cannot be
// built is left out of every chain.
func (a *App) wireProviders(overrides map[string]backend.Backend) error {
	cfg := a.Config
	a.Breakers = backend.NewBreakerRegistry(func(name string, _, to gobreaker.State) {
		metrics.ProviderBreakerState.WithLabelValues(name).Set(float64(to))
	})

	needed := map[string]bool{cfg.Providers.Default: true}
	for _, w := range cfg.Workers {
		for _, name := range w.Routes() {
			needed[name] = true
		}
	}

	built := make(map[string]backend.Route, len(needed))
	for name := range needed {
		inner, ok := overrides[name]
		if !ok {
			rc, defined := cfg.Providers.Routes[name]
			if !defined {
				return fmt.Errorf("provider route %q is not defined", name)
			}
			var err error
			inner, err = backend.New(rc.Backend(), a.Procs)
			if err != nil {
				log.Printf("WARNING: app: provider %s unavailable: %v", name, err)
				continue
			}
		}
		built[name] = backend.Route{
			Name:    name,
			Backend: backend.NewResilient(name, inner, a.Breakers, cfg.Providers.Retry),
		}
	}

	var fallback []backend.Route
	if r, ok := built[cfg.Providers.Default]; ok {
		fallback = append(fallback, r)
	}
	a.Router = backend.NewRouter(fallback...)

	for _, w := range cfg.Workers {
		var chain []backend.Route
		for _, name := range w.Routes() {
			if r, ok := built[name]; ok {
				chain = append(chain, r)
			}
		}
		if len(chain) == 0 {
			continue
		}
		a.Router.SetRoutes(w.Code, chain...)
	}

	if len(built) == 0 {
		return fmt.Errorf("no provider route could be built")
	}
	return nil
}

// Close stops subprocesses, the event bus and the store. Later calls return
// the first result.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if err := a.Procs.KillAll(); err != nil {
			log.Printf("ERROR: app: killing subprocesses: %v", err)
		}
		a.Bus.Close()
		a.closeErr = a.Store.Close()
	})
	return a.closeErr
}
