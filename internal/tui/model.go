package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/cowork/internal/events"
	"github.com/aristath/cowork/internal/scheduler"
)

// Controller is the part of the session store the TUI drives.
type Controller interface {
	Start(ctx context.Context, sessionID string) error
	Pause(sessionID string) error
	Cancel(sessionID string) error
	SubmitUserInput(sessionID, taskID string, answers []string) error
}

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
)

// busClosedMsg reports that the event subscription ended.
type busClosedMsg struct{}

// actionDoneMsg reports the outcome of a controller call.
type actionDoneMsg struct {
	action string
	err    error
}

// Model is the root Bubble Tea model for watching one session.
type Model struct {
	ctx          context.Context
	ctrl         Controller
	sessionID    string
	state        scheduler.SessionState
	taskPane     TaskPaneModel
	progressPane ProgressPaneModel
	answerPane   AnswerPaneModel
	answering    bool
	focusedPane  PaneID
	eventSub     <-chan events.Event
	busClosed    bool
	status       string
	statusErr    bool
	width        int
	height       int
	quitting     bool
}

// New creates a TUI model for sess. sub should carry the session's events.
func New(ctx context.Context, ctrl Controller, sub <-chan events.Event, sess scheduler.Session) Model {
	m := Model{
		ctx:          ctx,
		ctrl:         ctrl,
		sessionID:    sess.ID,
		state:        sess.State,
		taskPane:     NewTaskPaneModel(sess),
		progressPane: NewProgressPaneModel(sess),
		focusedPane:  PaneTasks,
		eventSub:     sub,
	}
	m.updateFocusStates()
	return m
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
			return busClosedMsg{}
		}
		return event
	}
}

// State returns the last known session state.
func (m Model) State() scheduler.SessionState {
	return m.state
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.answering {
			if msg.String() == KeyEsc {
				m.answering = false
				m.setStatus("answering cancelled", false)
				return m, nil
			}
			var cmd tea.Cmd
			m.answerPane, cmd = m.answerPane.Update(msg)
			if !m.answerPane.IsVisible() {
				m.answering = false
			}
			return m, cmd
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			if m.state == scheduler.SessionRunning || m.state == scheduler.SessionPaused {
				if err := m.ctrl.Cancel(m.sessionID); err != nil {
					m.setStatus("cancel: "+err.Error(), true)
				}
			}
			m.quitting = true
			return m, tea.Quit

		case KeyPause:
			cmds = append(cmds, m.action("pause", func() error { return m.ctrl.Pause(m.sessionID) }))

		case KeyResume:
			ctx, id := m.ctx, m.sessionID
			cmds = append(cmds, m.action("resume", func() error { return m.ctrl.Start(ctx, id) }))

		case KeyAnswer:
			task, ok := m.taskPane.SelectedTask()
			if !ok || task.State != scheduler.TaskWaitingUserInput {
				m.setStatus("selected task is not waiting for input", true)
				break
			}
			m.answerPane = NewAnswerPaneModel(task.ID, task.Questions)
			m.answerPane.SetSize(m.width, m.height)
			m.answering = true
			cmds = append(cmds, m.answerPane.Init())

		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.answerPane.SetSize(msg.Width, msg.Height)

	case answersSubmittedMsg:
		id := m.sessionID
		cmds = append(cmds, m.action("answer", func() error {
			return m.ctrl.SubmitUserInput(id, msg.taskID, msg.answers)
		}))

	case actionDoneMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("%s: %v", msg.action, msg.err), true)
		} else {
			m.setStatus(msg.action+": ok", false)
		}

	case busClosedMsg:
		m.busClosed = true
		m.setStatus("event stream closed", true)

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.SessionStateEvent:
		m.state = msg.State
		m.progressPane.SetState(msg.State)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.NeedsUserInputEvent:
		m.setStatus(fmt.Sprintf("task %s needs input: select it and press a", msg.TaskID), false)
		cmds = append(cmds, m.forwardTaskEvent(msg), waitForEvent(m.eventSub))

	case events.PlanEvent, events.TaskStateChangedEvent, events.TaskOutputEvent:
		cmds = append(cmds, m.forwardTaskEvent(msg), waitForEvent(m.eventSub))

	case events.SessionCreatedEvent:
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		// The form advances fields and groups through its own messages.
		if m.answering {
			var cmd tea.Cmd
			m.answerPane, cmd = m.answerPane.Update(msg)
			if !m.answerPane.IsVisible() {
				m.answering = false
			}
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// forwardTaskEvent hands a task event to the task pane and refreshes the counts.
func (m *Model) forwardTaskEvent(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.taskPane, cmd = m.taskPane.Update(msg)
	m.progressPane.SetTasks(m.taskPane.Tasks())
	return cmd
}

// action runs fn off the update loop and reports its outcome.
func (m Model) action(name string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{action: name, err: fn()}
	}
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.answering {
		return m.answerPane.View()
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.progressPane.View())

	status := StyleHelp.Render(m.status)
	if m.statusErr {
		status = StyleError.Render(m.status)
	}

	return lipgloss.JoinVertical(lipgloss.Left, main, status, HelpView())
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 2 // status line and help bar

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
