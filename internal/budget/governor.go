// Package budget tracks daily provider spend per worker and globally, and
// answers admission queries for the scheduler.
//
// Accounting is in-memory and approximate. Entries are optionally mirrored
// to a Ledger so a restarted process can rebuild the current day.
package budget

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level classifies how much of a budget has been spent.
type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelCritical
	LevelExceeded
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

// Thresholds are the spend fractions at which each level starts.
type Thresholds struct {
	Warning  float64
	Critical float64
	Exceeded float64
}

// DefaultThresholds returns 80% / 95% / 100%.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.80, Critical: 0.95, Exceeded: 1.0}
}

// Classify maps a spend fraction onto a level.
func (t Thresholds) Classify(fraction float64) Level {
	switch {
	case fraction >= t.Exceeded:
		return LevelExceeded
	case fraction >= t.Critical:
		return LevelCritical
	case fraction >= t.Warning:
		return LevelWarning
	default:
		return LevelOK
	}
}

// Config holds the daily limits. A worker with a zero or missing limit runs
// on a free provider: its usage is logged but never gates admission.
// A zero GlobalLimit disables the global cap.
type Config struct {
	GlobalLimit    float64
	WorkerLimits   map[string]float64
	Thresholds     Thresholds
	Prices         map[string]Price
	DefaultPrice   Price
	ReservedWorker string // the only paid worker admitted while global spend is critical
}

// Entry is one ledger line.
type Entry struct {
	Worker      string
	Model       string
	InputUnits  int
	OutputUnits int
	Cost        float64
	At          time.Time
}

// Ledger persists entries.
type Ledger interface {
	AppendLedger(ctx context.Context, e Entry) error
	LedgerSince(ctx context.Context, since time.Time) ([]Entry, error)
}

// Usage is the spend summary of one budget.
type Usage struct {
	Limit     float64
	Used      float64
	Remaining float64
	Percent   float64 // 0-100, zero when there is no limit
	Level     Level
}

// Status is a snapshot of the current day.
type Status struct {
	Day        string
	Global     Usage
	Workers    map[string]Usage
	Level      Level
	Thresholds Thresholds
}

// Decision is the answer to an admission query.
type Decision struct {
	Allowed bool
	Reason  string
}

// Governor accumulates spend for the current day.
type Governor struct {
	mu      sync.Mutex
	cfg     Config
	ledger  Ledger
	now     func() time.Time
	day     string
	total   float64
	workers map[string]float64
	entries int
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithLedger mirrors every entry into l.
func WithLedger(l Ledger) Option {
	return func(g *Governor) { g.ledger = l }
}

// New creates a governor. Zero thresholds fall back to the defaults.
func New(cfg Config, opts ...Option) *Governor {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Prices == nil {
		cfg.Prices = DefaultPrices()
	}
	if cfg.DefaultPrice == (Price{}) {
		cfg.DefaultPrice = FallbackPrice
	}
	g := &Governor{
		cfg:     cfg,
		now:     time.Now,
		workers: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.day = dayKey(g.now())
	return g
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// rollover resets the counters when the day changed. Caller holds g.mu.
func (g *Governor) rollover() {
	today := dayKey(g.now())
	if today == g.day {
		return
	}
	g.day = today
	g.total = 0
	g.entries = 0
	g.workers = make(map[string]float64)
}

// Restore rebuilds today's counters from the ledger.
func (g *Governor) Restore(ctx context.Context) error {
	if g.ledger == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	entries, err := g.ledger.LedgerSince(ctx, start)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	g.day = dayKey(now)
	g.total = 0
	g.entries = 0
	g.workers = make(map[string]float64)
	for _, e := range entries {
		g.total += e.Cost
		g.workers[e.Worker] += e.Cost
		g.entries++
	}
	return nil
}

// RecordUsage prices the units for model and adds the cost to the day.
// A ledger write failure is returned after the in-memory counters are
// updated; the spend still counts.
func (g *Governor) RecordUsage(ctx context.Context, worker, model string, inputUnits, outputUnits int) (Entry, error) {
	g.mu.Lock()
	g.rollover()
	price := g.priceFor(model)
	e := Entry{
		Worker:      worker,
		Model:       model,
		InputUnits:  inputUnits,
		OutputUnits: outputUnits,
		Cost:        price.Cost(inputUnits, outputUnits),
		At:          g.now(),
	}
	g.total += e.Cost
	g.workers[worker] += e.Cost
	g.entries++
	ledger := g.ledger
	g.mu.Unlock()

	if ledger != nil {
		if err := ledger.AppendLedger(ctx, e); err != nil {
			return e, fmt.Errorf("append ledger: %w", err)
		}
	}
	return e, nil
}

func (g *Governor) priceFor(model string) Price {
	if p, ok := g.cfg.Prices[model]; ok {
		return p
	}
	best := ""
	for name := range g.cfg.Prices {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return g.cfg.Prices[best]
	}
	return g.cfg.DefaultPrice
}

func (g *Governor) usage(limit, used float64) Usage {
	u := Usage{Limit: limit, Used: used}
	if limit <= 0 {
		return u
	}
	u.Remaining = limit - used
	if u.Remaining < 0 {
		u.Remaining = 0
	}
	fraction := used / limit
	u.Percent = fraction * 100
	u.Level = g.cfg.Thresholds.Classify(fraction)
	return u
}

// Status returns today's spend.
func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.status()
}

func (g *Governor) status() Status {
	st := Status{
		Day:        g.day,
		Global:     g.usage(g.cfg.GlobalLimit, g.total),
		Workers:    make(map[string]Usage, len(g.cfg.WorkerLimits)+len(g.workers)),
		Thresholds: g.cfg.Thresholds,
	}
	for code, limit := range g.cfg.WorkerLimits {
		st.Workers[code] = g.usage(limit, g.workers[code])
	}
	for code, used := range g.workers {
		if _, ok := st.Workers[code]; !ok {
			st.Workers[code] = g.usage(0, used)
		}
	}
	st.Level = st.Global.Level
	return st
}

// IsFree reports whether worker has no daily limit.
func (g *Governor) IsFree(worker string) bool {
	return g.cfg.WorkerLimits[worker] <= 0
}

// WorkerExhausted reports whether a paid worker spent its whole limit.
func (g *Governor) WorkerExhausted(worker string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	limit := g.cfg.WorkerLimits[worker]
	return limit > 0 && g.workers[worker] >= limit
}

// CanExecute is the budget admission gate.
func (g *Governor) CanExecute(worker string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()

	limit := g.cfg.WorkerLimits[worker]
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if g.workers[worker] >= limit {
		return Decision{Reason: fmt.Sprintf("%s daily budget exhausted (%.2f/%.2f)", worker, g.workers[worker], limit)}
	}

	global := g.usage(g.cfg.GlobalLimit, g.total)
	switch global.Level {
	case LevelExceeded:
		return Decision{Reason: "global daily budget exceeded"}
	case LevelCritical:
		if worker != g.cfg.ReservedWorker {
			return Decision{Reason: fmt.Sprintf("global budget critical (%.0f%%), reserved for %s", global.Percent, g.cfg.ReservedWorker)}
		}
	}
	return Decision{Allowed: true}
}

// TopSpenders returns worker codes ordered by spend, highest first.
func (g *Governor) TopSpenders(n int) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()

	codes := make([]string, 0, len(g.workers))
	for code := range g.workers {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		if g.workers[codes[i]] != g.workers[codes[j]] {
			return g.workers[codes[i]] > g.workers[codes[j]]
		}
		return codes[i] < codes[j]
	})
	if n > 0 && len(codes) > n {
		codes = codes[:n]
	}
	return codes
}
