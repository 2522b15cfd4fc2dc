package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/hq/internal/health"
	"github.com/aristath/hq/internal/metrics"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

const (
	defaultHistory = 20
	maxHistory     = 100
	statsScanLimit = 1000
	metricsWindow  = 24 * time.Hour
)

// Executions returns recent tick records, newest first. limit defaults to
// 20 and is capped at 100. A nil status matches every status.
func (s *Scheduler) Executions(ctx context.Context, limit int, status *TickStatus) ([]*TickExecution, error) {
	if limit <= 0 {
		limit = defaultHistory
	}
	if limit > maxHistory {
		limit = maxHistory
	}
	return s.deps.Store.ListTicks(ctx, TickFilter{Status: status, Limit: limit})
}

// TickStats summarizes tick history.
type TickStats struct {
	Total       int
	SuccessRate float64
	AvgDuration time.Duration // over completed ticks
	Last        time.Time
	Next        time.Time
}

func (s *Scheduler) tickStats(ctx context.Context, since time.Time, emptyRate float64) (TickStats, error) {
	ticks, err := s.deps.Store.ListTicks(ctx, TickFilter{Since: since, Limit: statsScanLimit})
	if err != nil {
		return TickStats{}, fmt.Errorf("list ticks: %w", err)
	}
	st := TickStats{Total: len(ticks), SuccessRate: emptyRate}
	var sum time.Duration
	completed := 0
	for _, t := range ticks {
		if t.Status == TickCompleted {
			completed++
			sum += t.Duration
		}
	}
	if completed > 0 {
		st.AvgDuration = (sum / time.Duration(completed)).Round(time.Millisecond)
	}
	if st.Total > 0 {
		st.SuccessRate = round2(float64(completed) / float64(st.Total))
		st.Last = ticks[0].StartedAt
		st.Next = st.Last.Add(s.cfg.Interval)
	}
	return st, nil
}

// Stats summarizes the ticks of the last days days.
func (s *Scheduler) Stats(ctx context.Context, days int) (TickStats, error) {
	if days <= 0 {
		days = 7
	}
	now := s.now()
	st, err := s.tickStats(ctx, now.AddDate(0, 0, -days), 0)
	if err != nil {
		return TickStats{}, err
	}
	if st.Next.IsZero() {
		st.Next = now.Add(s.cfg.Interval)
	}
	return st, nil
}

// WorkerMetrics is the 24h view of one worker.
type WorkerMetrics struct {
	Code                string
	Name                string
	Role                roster.Role
	Status              roster.Status
	Active              bool
	Completed           int
	Failed              int
	SuccessRate         float64
	AvgResponseTime     time.Duration
	Cost                float64
	Tokens              int
	ConsecutiveFailures int
	HealthScore         int
	Healthy             bool
}

// SystemSnapshot is the system-wide health view.
type SystemSnapshot struct {
	At      time.Time
	Workers struct {
		Total, Active, Idle, Running, Paused, Error int
	}
	Tasks struct {
		Pending, InProgress, Completed24h, Failed24h int
		SuccessRate                                  float64
	}
	Ticks     TickStats
	Spent24h  float64
	Tokens24h int
	Score     int
	Unhealthy []string
	Warnings  []string
	PerWorker []WorkerMetrics
}

// SystemMetrics gathers workers, tasks and tick history concurrently and
// derives health scores and warnings.
func (s *Scheduler) SystemMetrics(ctx context.Context) (SystemSnapshot, error) {
	now := s.now()
	since := now.Add(-metricsWindow)

	var (
		workers []*roster.Worker
		recent  []*queue.Task
		qstats  queue.Stats
		ticks   TickStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		workers, err = s.deps.Workers.List(gctx, false)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = s.deps.Tasks.List(gctx, queue.Filter{
			Statuses:       []queue.Status{queue.StatusCompleted, queue.StatusFailed},
			CompletedAfter: since,
		})
		return err
	})
	g.Go(func() error {
		var err error
		qstats, err = s.deps.Tasks.Stats(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		ticks, err = s.tickStats(gctx, since, 1)
		return err
	})
	if err := g.Wait(); err != nil {
		return SystemSnapshot{}, fmt.Errorf("system metrics: %w", err)
	}

	snap := SystemSnapshot{At: now, Ticks: ticks}
	snap.Tasks.Pending = qstats.ByStatus[queue.StatusPending]
	snap.Tasks.InProgress = qstats.ByStatus[queue.StatusInProgress]
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(snap.Tasks.Pending))
	metrics.QueueDepth.WithLabelValues("in_progress").Set(float64(snap.Tasks.InProgress))

	byWorker := make(map[string][]*queue.Task)
	for _, t := range recent {
		if t.Status == queue.StatusCompleted {
			snap.Tasks.Completed24h++
		} else {
			snap.Tasks.Failed24h++
		}
		if t.AssignedTo != "" {
			byWorker[t.AssignedTo] = append(byWorker[t.AssignedTo], t)
		}
	}
	snap.Tasks.SuccessRate = 1
	if total := snap.Tasks.Completed24h + snap.Tasks.Failed24h; total > 0 {
		snap.Tasks.SuccessRate = round2(float64(snap.Tasks.Completed24h) / float64(total))
	}

	sort.Slice(workers, func(i, j int) bool { return workers[i].Code < workers[j].Code })
	scoreSum := 0
	for _, w := range workers {
		snap.Workers.Total++
		if w.Active {
			snap.Workers.Active++
		}
		switch w.Status {
		case roster.StatusIdle:
			snap.Workers.Idle++
		case roster.StatusRunning:
			snap.Workers.Running++
		case roster.StatusPaused:
			snap.Workers.Paused++
		case roster.StatusError:
			snap.Workers.Error++
		}

		m := s.workerMetrics(w, byWorker[w.Code])
		metrics.WorkerHealth.WithLabelValues(w.Code).Set(float64(m.HealthScore))
		snap.PerWorker = append(snap.PerWorker, m)
		snap.Spent24h += m.Cost
		snap.Tokens24h += m.Tokens
		scoreSum += m.HealthScore
		if !m.Healthy {
			snap.Unhealthy = append(snap.Unhealthy, w.Code)
		}
	}
	snap.Score = 100
	if len(workers) > 0 {
		snap.Score = int(math.Round(float64(scoreSum) / float64(len(workers))))
	}
	snap.Warnings = s.warnings(snap, now)
	return snap, nil
}

func (s *Scheduler) workerMetrics(w *roster.Worker, tasks []*queue.Task) WorkerMetrics {
	m := WorkerMetrics{
		Code:                w.Code,
		Name:                w.Name,
		Role:                w.Role,
		Status:              w.Status,
		Active:              w.Active,
		ConsecutiveFailures: s.deps.Tracker.Failures(w.Code),
	}
	var elapsed time.Duration
	timed := 0
	for _, t := range tasks {
		m.Cost += t.Cost
		m.Tokens += t.Metadata.TokensUsed
		if t.Status == queue.StatusFailed {
			m.Failed++
			continue
		}
		m.Completed++
		if !t.StartedAt.IsZero() && !t.CompletedAt.IsZero() {
			elapsed += t.CompletedAt.Sub(t.StartedAt)
			timed++
		}
	}
	rate := 1.0
	if total := m.Completed + m.Failed; total > 0 {
		rate = float64(m.Completed) / float64(total)
	}
	m.SuccessRate = round2(rate)
	if timed > 0 {
		m.AvgResponseTime = (elapsed / time.Duration(timed)).Round(time.Millisecond)
	}
	m.Cost = math.Round(m.Cost*10000) / 10000
	m.HealthScore = health.Score(w, rate, m.ConsecutiveFailures)
	m.Healthy = m.HealthScore >= health.HealthyScore
	return m
}

func (s *Scheduler) warnings(snap SystemSnapshot, now time.Time) []string {
	var out []string
	if snap.Tasks.SuccessRate < 0.8 && snap.Tasks.Completed24h+snap.Tasks.Failed24h > 3 {
		out = append(out, fmt.Sprintf("Task success rate is %d%% (below 80%%)", int(math.Round(snap.Tasks.SuccessRate*100))))
	}
	var inError []string
	streaks := 0
	for _, m := range snap.PerWorker {
		if m.Status == roster.StatusError {
			inError = append(inError, m.Code)
		}
		if m.ConsecutiveFailures >= 3 {
			streaks++
		}
	}
	if len(inError) > 0 {
		out = append(out, fmt.Sprintf("%d worker(s) in error state: %s", len(inError), strings.Join(inError, ", ")))
	}
	if streaks > 0 {
		out = append(out, fmt.Sprintf("%d worker(s) with 3+ consecutive failures", streaks))
	}
	if !snap.Ticks.Last.IsZero() && now.Sub(snap.Ticks.Last) > s.cfg.StaleAfter {
		out = append(out, fmt.Sprintf("No tick in the last %s", s.cfg.StaleAfter))
	}
	if snap.Tasks.Pending > s.cfg.BacklogWarn {
		out = append(out, fmt.Sprintf("%d tasks pending (backlog growing)", snap.Tasks.Pending))
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
