package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/hq/internal/events"
)

const maxActivity = 500

// ActivityPaneModel is a scrolling feed of engine events.
type ActivityPaneModel struct {
	lines    []string
	viewport viewport.Model
	follow   bool
	width    int
	height   int
	focused  bool
}

// NewActivityPaneModel creates an empty feed that follows new lines.
func NewActivityPaneModel() ActivityPaneModel {
	return ActivityPaneModel{viewport: viewport.New(0, 0), follow: true}
}

// Update handles messages for the activity pane.
func (m ActivityPaneModel) Update(msg tea.Msg) (ActivityPaneModel, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		m.viewport, cmd = m.viewport.Update(msg)
		m.follow = m.viewport.AtBottom()
	case events.Event:
		if line := describe(msg); line != "" {
			m.append(line)
		}
	}
	return m, cmd
}

func (m *ActivityPaneModel) append(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxActivity {
		m.lines = m.lines[len(m.lines)-maxActivity:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// Lines returns the feed contents.
func (m ActivityPaneModel) Lines() []string {
	return m.lines
}

// describe renders one event as a feed line. Events without a line are
// shown elsewhere.
func describe(e events.Event) string {
	switch e := e.(type) {
	case events.TickStartedEvent:
		return fmt.Sprintf("%s tick %s started (%s)", e.Timestamp.Format("15:04:05"), shortID(e.TickID), e.Trigger)
	case events.TickFinishedEvent:
		return fmt.Sprintf("%s tick %s %s: %d processed, %d completed, %d failed",
			e.Timestamp.Format("15:04:05"), shortID(e.TickID), e.Status, e.Processed, e.Completed, e.Failed)
	case events.TaskCreatedEvent:
		who := e.Worker
		if who == "" {
			who = "unassigned"
		}
		return fmt.Sprintf("%s + %q for %s (%s)", e.Timestamp.Format("15:04:05"), e.Title, who, e.Source)
	case events.TaskFailedEvent:
		verb := "failed"
		if e.Requeued {
			verb = "failed, requeued"
		}
		return fmt.Sprintf("%s %s %s task %s: %v", e.Timestamp.Format("15:04:05"), e.Worker, verb, shortID(e.ID), e.Err)
	case events.WorkerHealedEvent:
		return fmt.Sprintf("%s healed %s: %s", e.Timestamp.Format("15:04:05"), e.Target, e.Message)
	case events.MessageSentEvent:
		return fmt.Sprintf("%s %s -> %s [%s] %s", e.Timestamp.Format("15:04:05"), e.From, e.To, e.Type, truncate(e.Content, 80))
	case events.KnowledgeSharedEvent:
		return fmt.Sprintf("%s %s shared with %d worker(s): %s", e.Timestamp.Format("15:04:05"), e.From, e.Recipients, truncate(e.Insight, 80))
	case events.BudgetAlertEvent:
		return fmt.Sprintf("%s budget %s (%.0f%%)", e.Timestamp.Format("15:04:05"), e.Level, e.Percent)
	case events.PipelineProgressEvent:
		return fmt.Sprintf("%s pipeline %s %s %d/%d", e.Timestamp.Format("15:04:05"), e.Name, e.Status, e.Completed, e.Total)
	}
	return ""
}

// View renders the activity pane.
func (m ActivityPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	body := StyleTitle.Render("Activity") + "\n" + m.viewport.View()
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(body)
}

// SetSize updates the pane dimensions.
func (m *ActivityPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-4, 10)
	m.viewport.Height = max(h-3, 3)
}

// SetFocused updates the focus state.
func (m *ActivityPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
