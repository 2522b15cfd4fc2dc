package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hq/internal/events"
)

type pipelineState struct {
	name      string
	status    string
	completed int
	total     int
}

// TickPaneModel shows the current or last tick, the budget level and
// pipeline progress.
type TickPaneModel struct {
	tickID     string
	trigger    string
	status     string
	started    time.Time
	duration   time.Duration
	processed  int
	completed  int
	failed     int
	maxPerTick int

	budgetLevel   string
	budgetPercent float64

	pipelines map[string]*pipelineState

	width   int
	height  int
	focused bool
}

// NewTickPaneModel creates a tick pane. maxPerTick scales the progress bar.
func NewTickPaneModel(maxPerTick int) TickPaneModel {
	if maxPerTick <= 0 {
		maxPerTick = 6
	}
	return TickPaneModel{
		status:      "waiting",
		maxPerTick:  maxPerTick,
		budgetLevel: "ok",
		pipelines:   make(map[string]*pipelineState),
	}
}

// Update handles messages for the tick pane.
func (m TickPaneModel) Update(msg tea.Msg) (TickPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.TickStartedEvent:
		m.tickID = msg.TickID
		m.trigger = msg.Trigger
		m.status = "running"
		m.started = msg.Timestamp
		m.duration = 0
		m.processed, m.completed, m.failed = 0, 0, 0

	case events.TaskDispatchedEvent:
		if m.status == "running" {
			m.processed++
		}

	case events.TaskCompletedEvent:
		if m.status == "running" {
			m.completed++
		}

	case events.TaskFailedEvent:
		if m.status == "running" {
			m.failed++
		}

	case events.TickFinishedEvent:
		m.tickID = msg.TickID
		m.status = msg.Status
		m.duration = msg.Duration
		m.processed, m.completed, m.failed = msg.Processed, msg.Completed, msg.Failed

	case events.BudgetAlertEvent:
		m.budgetLevel = msg.Level
		m.budgetPercent = msg.Percent

	case events.PipelineProgressEvent:
		m.pipelines[msg.PipelineID] = &pipelineState{
			name:      msg.Name,
			status:    msg.Status,
			completed: msg.Completed,
			total:     msg.Total,
		}
	}
	return m, nil
}

// View renders the tick pane.
func (m TickPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Tick")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.tickID == "" {
		b.WriteString(StyleStatusPending.Render("No tick yet"))
		b.WriteString("\n")
	} else {
		b.WriteString(fmt.Sprintf("Tick:      %s (%s)\n", shortID(m.tickID), m.trigger))
		b.WriteString(fmt.Sprintf("Status:    %s\n", m.status))
		if m.duration > 0 {
			b.WriteString(fmt.Sprintf("Duration:  %v\n", m.duration.Round(time.Second)))
		}
		b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.completed))))
		b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", m.bar(min(m.width-4, 40)), m.processed, m.maxPerTick))
	}

	b.WriteString(fmt.Sprintf("\nBudget:    %s\n", budgetStyle(m.budgetLevel).Render(
		fmt.Sprintf("%s (%.0f%%)", m.budgetLevel, m.budgetPercent))))

	if len(m.pipelines) > 0 {
		b.WriteString("\nPipelines:\n")
		ids := make([]string, 0, len(m.pipelines))
		for id := range m.pipelines {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			p := m.pipelines[id]
			b.WriteString(fmt.Sprintf("  %s %s %d/%d\n", StatusIcon(pipelineIcon(p.status)), p.name, p.completed, p.total))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m TickPaneModel) bar(width int) string {
	if width <= 0 {
		return ""
	}
	completedWidth := (m.completed * width) / m.maxPerTick
	failedWidth := (m.failed * width) / m.maxPerTick
	running := max(0, m.processed-m.completed-m.failed)
	runningWidth := (running * width) / m.maxPerTick
	pendingWidth := max(0, width-completedWidth-failedWidth-runningWidth)

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", pendingWidth))
	return bar
}

func pipelineIcon(status string) string {
	if status == "completed" {
		return "completed"
	}
	return "running"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SetSize updates the pane dimensions.
func (m *TickPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *TickPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
