package budget

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memLedger struct {
	mu      sync.Mutex
	entries []Entry
	failErr error
}

func (l *memLedger) AppendLedger(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	l.entries = append(l.entries, e)
	return nil
}

func (l *memLedger) LedgerSince(_ context.Context, since time.Time) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// flat prices one dollar per million units in and out.
var flat = map[string]Price{"test-model": {InputPerMillion: 1, OutputPerMillion: 1}}

func newGovernor(t *testing.T, cfg Config) (*Governor, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	if cfg.Prices == nil {
		cfg.Prices = flat
	}
	return New(cfg, WithClock(clock.Now)), clock
}

// spend records dollars of usage for worker.
func spend(t *testing.T, g *Governor, worker string, dollars float64) {
	t.Helper()
	units := int(dollars * 1_000_000)
	if _, err := g.RecordUsage(context.Background(), worker, "test-model", units, 0); err != nil {
		t.Fatalf("RecordUsage() error: %v", err)
	}
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		fraction float64
		want     Level
	}{
		{0, LevelOK},
		{0.79, LevelOK},
		{0.80, LevelWarning},
		{0.94, LevelWarning},
		{0.95, LevelCritical},
		{0.999, LevelCritical},
		{1.0, LevelExceeded},
		{1.5, LevelExceeded},
	}
	for _, tt := range tests {
		if got := th.Classify(tt.fraction); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.fraction, got, tt.want)
		}
	}
}

func TestRecordUsagePricing(t *testing.T) {
	g := New(Config{})
	tests := []struct {
		model string
		in    int
		out   int
		want  float64
	}{
		{"claude-sonnet-4-20250514", 1_000_000, 1_000_000, 18},
		{"gpt-4o-mini", 1_000_000, 0, 0.15},
		{"gemini-2.0-flash", 5_000_000, 5_000_000, 0},
		{"mystery-model", 1_000_000, 0, 15},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			e, err := g.RecordUsage(context.Background(), "W", tt.model, tt.in, tt.out)
			if err != nil {
				t.Fatalf("RecordUsage() error: %v", err)
			}
			if math.Abs(e.Cost-tt.want) > 1e-9 {
				t.Errorf("cost = %v, want %v", e.Cost, tt.want)
			}
		})
	}
}

func TestStatusLevels(t *testing.T) {
	g, _ := newGovernor(t, Config{GlobalLimit: 10, WorkerLimits: map[string]float64{"PAID": 10}})

	if st := g.Status(); st.Level != LevelOK || st.Global.Remaining != 10 {
		t.Fatalf("initial status = %+v", st.Global)
	}

	spend(t, g, "PAID", 8)
	st := g.Status()
	if st.Level != LevelWarning {
		t.Errorf("level at 80%% = %s, want warning", st.Level)
	}
	if st.Workers["PAID"].Used != 8 {
		t.Errorf("worker used = %v, want 8", st.Workers["PAID"].Used)
	}

	spend(t, g, "FREE", 1.6)
	if st := g.Status(); st.Level != LevelCritical {
		t.Errorf("level at 96%% = %s, want critical", st.Level)
	}

	spend(t, g, "FREE", 1)
	st = g.Status()
	if st.Level != LevelExceeded || st.Global.Remaining != 0 {
		t.Errorf("status at 106%% = %+v", st.Global)
	}
	if u := st.Workers["FREE"]; u.Limit != 0 || math.Abs(u.Used-2.6) > 1e-9 {
		t.Errorf("free worker usage = %+v", u)
	}
}

func TestNoGlobalLimit(t *testing.T) {
	g, _ := newGovernor(t, Config{WorkerLimits: map[string]float64{"PAID": 100}})
	spend(t, g, "PAID", 50)
	if st := g.Status(); st.Level != LevelOK {
		t.Errorf("level without global cap = %s, want ok", st.Level)
	}
}

func TestCanExecute(t *testing.T) {
	cfg := Config{
		GlobalLimit:    10,
		WorkerLimits:   map[string]float64{"PAID": 20, "RESERVED": 20, "SMALL": 1},
		ReservedWorker: "RESERVED",
	}

	tests := []struct {
		name   string
		spent  map[string]float64
		worker string
		want   bool
	}{
		{"free worker on fresh day", nil, "FREE", true},
		{"paid worker on fresh day", nil, "PAID", true},
		{"own budget exhausted", map[string]float64{"SMALL": 1}, "SMALL", false},
		{"free worker ignores exceeded global", map[string]float64{"PAID": 12}, "FREE", true},
		{"paid worker denied when global exceeded", map[string]float64{"PAID": 10}, "PAID", false},
		{"reserved worker denied when global exceeded", map[string]float64{"PAID": 10}, "RESERVED", false},
		{"paid worker denied when critical", map[string]float64{"PAID": 9.6}, "PAID", false},
		{"reserved worker admitted when critical", map[string]float64{"PAID": 9.6}, "RESERVED", true},
		{"warning admits everyone", map[string]float64{"PAID": 8.5}, "PAID", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGovernor(t, cfg)
			for w, d := range tt.spent {
				spend(t, g, w, d)
			}
			d := g.CanExecute(tt.worker)
			if d.Allowed != tt.want {
				t.Errorf("CanExecute(%s) = %+v, want allowed=%v", tt.worker, d, tt.want)
			}
			if !d.Allowed && d.Reason == "" {
				t.Error("denial without reason")
			}
		})
	}
}

func TestDayRollover(t *testing.T) {
	g, clock := newGovernor(t, Config{GlobalLimit: 1, WorkerLimits: map[string]float64{"PAID": 1}})
	spend(t, g, "PAID", 1)
	if g.CanExecute("PAID").Allowed {
		t.Fatal("exhausted worker admitted")
	}

	clock.Advance(24 * time.Hour)
	if !g.CanExecute("PAID").Allowed {
		t.Error("worker still denied after day rollover")
	}
	if st := g.Status(); st.Global.Used != 0 || st.Day != "2026-03-02" {
		t.Errorf("status after rollover = %+v", st)
	}
}

func TestLedgerRestore(t *testing.T) {
	ledger := &memLedger{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	cfg := Config{GlobalLimit: 10, Prices: flat}

	first := New(cfg, WithClock(clock.Now), WithLedger(ledger))
	spend(t, first, "A", 2)
	spend(t, first, "B", 3)

	second := New(cfg, WithClock(clock.Now), WithLedger(ledger))
	if err := second.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	st := second.Status()
	if st.Global.Used != 5 || st.Workers["B"].Used != 3 {
		t.Errorf("restored status = %+v", st)
	}
	if top := second.TopSpenders(1); len(top) != 1 || top[0] != "B" {
		t.Errorf("TopSpenders(1) = %v, want [B]", top)
	}
}

func TestLedgerFailureStillCounts(t *testing.T) {
	ledger := &memLedger{failErr: errors.New("disk full")}
	g := New(Config{GlobalLimit: 10, Prices: flat}, WithLedger(ledger))

	_, err := g.RecordUsage(context.Background(), "A", "test-model", 1_000_000, 0)
	if err == nil {
		t.Fatal("RecordUsage() error = nil, want ledger error")
	}
	if st := g.Status(); st.Global.Used != 1 {
		t.Errorf("used = %v, want 1", st.Global.Used)
	}
}
