package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

// Area is the track record of a worker on one task type.
type Area struct {
	Type        queue.Type
	SuccessRate float64
	Count       int
}

// SkillProfile summarises a worker's last 30 days.
type SkillProfile struct {
	Worker          string
	Name            string
	Role            roster.Role
	Completed       int
	Failed          int
	SuccessRate     float64
	Strong          []Area // success rate >= 0.8 over at least two tasks
	Weak            []Area // success rate < 0.6 over at least two tasks
	AvgResponseTime time.Duration
	TotalCost       float64
	RecentInsights  []string
	UpdatedAt       time.Time
}

// SkillProfile builds the profile of one worker from its finished tasks.
func (l *Learner) SkillProfile(ctx context.Context, code string) (SkillProfile, error) {
	w, err := l.workers.Get(ctx, code)
	if err != nil {
		return SkillProfile{}, fmt.Errorf("skill profile %s: %w", code, err)
	}
	now := l.now()
	tasks, err := l.tasks.List(ctx, queue.Filter{
		AssignedTo:     code,
		Statuses:       []queue.Status{queue.StatusCompleted, queue.StatusFailed},
		CompletedAfter: now.Add(-profileWindow),
	})
	if err != nil {
		return SkillProfile{}, fmt.Errorf("skill profile %s: %w", code, err)
	}

	p := SkillProfile{
		Worker:         w.Code,
		Name:           w.Name,
		Role:           w.Role,
		RecentInsights: l.Notes(code, profileInsights),
		UpdatedAt:      now,
	}

	type tally struct{ completed, total int }
	byType := make(map[queue.Type]*tally)
	var order []queue.Type
	var elapsed time.Duration
	timed := 0
	for _, t := range tasks {
		tl, ok := byType[t.Type]
		if !ok {
			tl = &tally{}
			byType[t.Type] = tl
			order = append(order, t.Type)
		}
		tl.total++
		if t.Status == queue.StatusFailed {
			p.Failed++
			continue
		}
		p.Completed++
		tl.completed++
		p.TotalCost += t.Cost
		if !t.StartedAt.IsZero() && !t.CompletedAt.IsZero() {
			elapsed += t.CompletedAt.Sub(t.StartedAt)
			timed++
		}
	}

	p.SuccessRate = 1
	if total := p.Completed + p.Failed; total > 0 {
		p.SuccessRate = round(float64(p.Completed)/float64(total), 100)
	}
	if timed > 0 {
		p.AvgResponseTime = (elapsed / time.Duration(timed)).Round(time.Millisecond)
	}
	p.TotalCost = round(p.TotalCost, 10000)

	for _, typ := range order {
		tl := byType[typ]
		a := Area{Type: typ, Count: tl.total, SuccessRate: float64(tl.completed) / float64(tl.total)}
		if a.Count < 2 {
			continue
		}
		switch {
		case a.SuccessRate >= 0.8:
			p.Strong = append(p.Strong, a)
		case a.SuccessRate < 0.6:
			p.Weak = append(p.Weak, a)
		}
	}
	sort.SliceStable(p.Strong, func(i, j int) bool { return p.Strong[i].SuccessRate > p.Strong[j].SuccessRate })
	sort.SliceStable(p.Weak, func(i, j int) bool { return p.Weak[i].SuccessRate < p.Weak[j].SuccessRate })
	return p, nil
}

// TeamProfiles builds the profile of every active worker, ordered by code.
func (l *Learner) TeamProfiles(ctx context.Context) ([]SkillProfile, error) {
	workers, err := l.workers.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("team profiles: %w", err)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Code < workers[j].Code })
	out := make([]SkillProfile, 0, len(workers))
	for _, w := range workers {
		p, err := l.SkillProfile(ctx, w.Code)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// TeamSummary aggregates the team's learning state.
type TeamSummary struct {
	Insights    int
	Shares      int
	TopLearners []string // worker codes by completed tasks, at most five
	Recent      []string // latest shares as "FROM: content"
	Strengths   map[queue.Type]int
	Weaknesses  map[queue.Type]int
}

// Summary aggregates profiles and the share history.
func (l *Learner) Summary(ctx context.Context) (TeamSummary, error) {
	profiles, err := l.TeamProfiles(ctx)
	if err != nil {
		return TeamSummary{}, err
	}
	s := TeamSummary{
		Strengths:  make(map[queue.Type]int),
		Weaknesses: make(map[queue.Type]int),
	}
	for _, p := range profiles {
		s.Insights += len(p.RecentInsights)
		for _, a := range p.Strong {
			s.Strengths[a.Type]++
		}
		for _, a := range p.Weak {
			s.Weaknesses[a.Type]++
		}
	}

	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].Completed > profiles[j].Completed })
	for i := 0; i < len(profiles) && i < 5; i++ {
		s.TopLearners = append(s.TopLearners, profiles[i].Worker)
	}

	for _, sh := range l.History(10) {
		s.Recent = append(s.Recent, fmt.Sprintf("%s: %s", sh.From, truncate(sh.Content, 100)))
	}
	l.mu.Lock()
	s.Shares = len(l.history)
	l.mu.Unlock()
	return s, nil
}

func round(v, scale float64) float64 {
	return math.Round(v*scale) / scale
}
