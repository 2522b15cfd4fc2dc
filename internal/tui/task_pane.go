package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hq/internal/events"
)

const (
	maxTasks      = 200
	taskListWidth = 30
)

// TaskState is what the dashboard knows about one dispatched task.
type TaskState struct {
	ID       string
	Title    string
	Worker   string
	Status   string // "running", "completed", "failed", "requeued"
	Detail   []string
	Started  time.Time
	Duration time.Duration
	Cost     float64
}

// TaskPaneModel lists dispatched tasks and shows the selected one.
type TaskPaneModel struct {
	tasks       map[string]*TaskState
	order       []string
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskDispatchedEvent:
		task, exists := m.tasks[msg.ID]
		if !exists {
			task = &TaskState{ID: msg.ID, Title: msg.Title}
			m.tasks[msg.ID] = task
			m.order = append(m.order, msg.ID)
			m.trim()
		}
		// A requeued task comes back through dispatch.
		task.Worker = msg.Worker
		task.Status = "running"
		task.Started = msg.Timestamp
		task.Detail = append(task.Detail, fmt.Sprintf("[%s] dispatched to %s", msg.Timestamp.Format("15:04:05"), msg.Worker))
		if len(m.order) == 1 {
			m.selectedIdx = 0
		}
		m.refreshIfSelected(msg.ID)

	case events.TaskCompletedEvent:
		if task, exists := m.tasks[msg.ID]; exists {
			task.Status = "completed"
			task.Duration = msg.Duration
			task.Cost = msg.Cost
			task.Detail = append(task.Detail,
				fmt.Sprintf("[Completed in %v, $%.4f]", msg.Duration.Round(time.Millisecond), msg.Cost),
				"",
				msg.Result)
			m.refreshIfSelected(msg.ID)
		}

	case events.TaskFailedEvent:
		if task, exists := m.tasks[msg.ID]; exists {
			task.Status = "failed"
			if msg.Requeued {
				task.Status = "requeued"
			}
			task.Duration = msg.Duration
			task.Detail = append(task.Detail, fmt.Sprintf("[Failed: %v]", msg.Err))
			m.refreshIfSelected(msg.ID)
		}
	}

	return m, cmd
}

// trim drops the oldest tasks beyond maxTasks.
func (m *TaskPaneModel) trim() {
	for len(m.order) > maxTasks {
		delete(m.tasks, m.order[0])
		m.order = m.order[1:]
		if m.selectedIdx > 0 {
			m.selectedIdx--
		}
	}
}

func (m *TaskPaneModel) refreshIfSelected(id string) {
	if m.selectedID() == id {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - taskListWidth - 4
	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(taskListWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting for the next tick..."))
	}
	for i, id := range m.order {
		task := m.tasks[id]
		line := fmt.Sprintf("%s %s", StatusIcon(task.Status), truncate(task.Worker+" "+task.Title, width-3))
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	case "requeued":
		return StyleStatusFailed.Render("↻")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m TaskPaneModel) selectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the selected task, if any.
func (m TaskPaneModel) Selected() (TaskState, bool) {
	task, ok := m.tasks[m.selectedID()]
	if !ok {
		return TaskState{}, false
	}
	return *task, true
}

func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.tasks[m.selectedID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	header := fmt.Sprintf("%s\nworker: %s  status: %s\n", task.Title, task.Worker, task.Status)
	m.viewport.SetContent(header + "\n" + strings.Join(task.Detail, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-taskListWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
