// Package tui is the live dashboard: dispatched tasks, an activity feed and
// the current tick, driven by the event bus.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hq/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneActivity
	PaneTick
)

// tickRequestedMsg reports the outcome of a manual tick started from the TUI.
type tickRequestedMsg struct {
	err error
}

// Options configures the dashboard.
type Options struct {
	// MaxPerTick scales the tick progress bar.
	MaxPerTick int
	// TriggerTick runs a manual tick. Nil disables the key.
	TriggerTick func() error
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	taskPane     TaskPaneModel
	activityPane ActivityPaneModel
	tickPane     TickPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	trigger      func() error
	width        int
	height       int
	quitting     bool
}

// New creates a new TUI model subscribed to every event on the bus.
func New(eventBus *events.EventBus, opts Options) Model {
	return Model{
		taskPane:     NewTaskPaneModel(),
		activityPane: NewActivityPaneModel(),
		tickPane:     NewTickPaneModel(opts.MaxPerTick),
		focusedPane:  PaneTasks,
		eventSub:     eventBus.SubscribeAll(256),
		trigger:      opts.TriggerTick,
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 3
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 2) % 3
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneActivity
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneTick
			m.updateFocusStates()

		case KeyTick:
			if m.trigger != nil {
				trigger := m.trigger
				cmds = append(cmds, func() tea.Msg {
					return tickRequestedMsg{err: trigger()}
				})
			}

		default:
			var cmd tea.Cmd
			switch m.focusedPane {
			case PaneTasks:
				m.taskPane, cmd = m.taskPane.Update(msg)
			case PaneActivity:
				m.activityPane, cmd = m.activityPane.Update(msg)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickRequestedMsg:
		if msg.err != nil {
			m.activityPane.append("manual tick: " + msg.err.Error())
		}

	case events.Event:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.activityPane, cmd = m.activityPane.Update(msg)
		cmds = append(cmds, cmd)
		m.tickPane, cmd = m.tickPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	right := lipgloss.JoinVertical(lipgloss.Left, m.activityPane.View(), m.tickPane.View())
	main := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), right)
	return lipgloss.JoinVertical(lipgloss.Left, main, HelpView(m.trigger != nil))
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 45) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar
	activityHeight := (availableHeight * 60) / 100

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.activityPane.SetSize(rightWidth, activityHeight)
	m.tickPane.SetSize(rightWidth, availableHeight-activityHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.activityPane.SetFocused(m.focusedPane == PaneActivity)
	m.tickPane.SetFocused(m.focusedPane == PaneTick)
}
