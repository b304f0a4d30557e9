package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/cowork/internal/events"
	"github.com/aristath/cowork/internal/scheduler"
)

// TaskPaneModel shows the task list and the selected task's details.
type TaskPaneModel struct {
	tasks       map[string]scheduler.Task // taskID -> latest known task
	taskOrder   []string                  // display order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates a task pane seeded with the session's plan.
func NewTaskPaneModel(sess scheduler.Session) TaskPaneModel {
	m := TaskPaneModel{
		tasks:    make(map[string]scheduler.Task),
		viewport: viewport.New(0, 0),
	}
	m.setPlan(sess.Tasks, sess.TaskOrder)
	return m
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
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
			if m.selectedIdx < len(m.taskOrder)-1 {
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

	case events.PlanEvent:
		m.setPlan(msg.Tasks, msg.TaskOrder)

	case events.TaskStateChangedEvent:
		task, ok := m.tasks[msg.TaskID]
		if !ok {
			break
		}
		task.State = msg.State
		task.Assignee = msg.Assignee
		task.UpdatedAt = msg.UpdatedAt
		task.StartedAt = msg.StartedAt
		task.FinishedAt = msg.FinishedAt
		task.Error = msg.Error
		m.tasks[msg.TaskID] = task
		if m.SelectedTaskID() == msg.TaskID {
			m.updateViewportContent()
		}

	case events.NeedsUserInputEvent:
		task, ok := m.tasks[msg.TaskID]
		if !ok {
			break
		}
		task.Questions = msg.Questions
		task.UserAnswers = nil
		m.tasks[msg.TaskID] = task
		if m.SelectedTaskID() == msg.TaskID {
			m.updateViewportContent()
		}

	case events.TaskOutputEvent:
		task, ok := m.tasks[msg.TaskID]
		if !ok {
			break
		}
		task.OutputText = msg.OutputText
		m.tasks[msg.TaskID] = task
		if m.SelectedTaskID() == msg.TaskID {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// setPlan replaces the known tasks, keeping the selection on the same task when it survives.
func (m *TaskPaneModel) setPlan(tasks []scheduler.Task, order []string) {
	selected := m.SelectedTaskID()

	m.tasks = make(map[string]scheduler.Task, len(tasks))
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	m.taskOrder = m.taskOrder[:0]
	for _, id := range order {
		if _, ok := m.tasks[id]; ok {
			m.taskOrder = append(m.taskOrder, id)
		}
	}
	if len(m.taskOrder) != len(m.tasks) {
		// Order missing or stale; fall back to the tasks' own order.
		m.taskOrder = m.taskOrder[:0]
		for _, t := range tasks {
			m.taskOrder = append(m.taskOrder, t.ID)
		}
	}

	m.selectedIdx = 0
	for i, id := range m.taskOrder {
		if id == selected {
			m.selectedIdx = i
			break
		}
	}
	m.updateViewportContent()
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := min(30, m.width/3)
	list := m.renderTaskList(listWidth)
	content := lipgloss.JoinHorizontal(lipgloss.Top, list, " ", m.viewport.View())

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderTaskList renders the task list column.
func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("No plan yet"))
	} else {
		for i, id := range m.taskOrder {
			task := m.tasks[id]
			name := task.Title
			if name == "" {
				name = task.ID
			}
			if width > 9 && len(name) > width-6 {
				name = name[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", StatusIcon(task.State), name)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(max(0, m.height-2)).
		Render(b.String())
}

// StatusIcon returns a styled indicator for a task state.
func StatusIcon(state scheduler.TaskState) string {
	style := taskStyle(state)
	switch state {
	case scheduler.TaskRunning:
		return style.Render("●")
	case scheduler.TaskCompleted:
		return style.Render("✓")
	case scheduler.TaskFailed:
		return style.Render("✗")
	case scheduler.TaskBlocked:
		return style.Render("⊘")
	case scheduler.TaskWaitingUserInput:
		return style.Render("?")
	case scheduler.TaskCancelled:
		return style.Render("-")
	default:
		return style.Render("○")
	}
}

// SelectedTaskID returns the id of the selected task, or "" when there is none.
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// SelectedTask returns the selected task.
func (m TaskPaneModel) SelectedTask() (scheduler.Task, bool) {
	task, ok := m.tasks[m.SelectedTaskID()]
	return task, ok
}

// Tasks returns the known tasks in display order.
func (m TaskPaneModel) Tasks() []scheduler.Task {
	out := make([]scheduler.Task, 0, len(m.taskOrder))
	for _, id := range m.taskOrder {
		out = append(out, m.tasks[id])
	}
	return out
}

// updateViewportContent shows the selected task's details.
func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.SelectedTask()
	if !ok {
		m.viewport.SetContent("Waiting for a plan...")
		return
	}
	m.viewport.SetContent(renderTaskDetail(task))
	m.viewport.GotoBottom()
}

func renderTaskDetail(task scheduler.Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", StyleTitle.Render(task.Title))
	fmt.Fprintf(&b, "id:       %s\n", task.ID)
	fmt.Fprintf(&b, "assignee: %s\n", task.Assignee)
	fmt.Fprintf(&b, "state:    %s\n", taskStyle(task.State).Render(string(task.State)))
	fmt.Fprintf(&b, "mode:     %s\n", task.ResourceMode)
	if len(task.Deps) > 0 {
		fmt.Fprintf(&b, "deps:     %s\n", strings.Join(task.Deps, ", "))
	}
	if task.StartedAt != nil && task.FinishedAt != nil {
		fmt.Fprintf(&b, "took:     %v\n", time.Duration(*task.FinishedAt-*task.StartedAt)*time.Millisecond)
	}
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}

	if len(task.Questions) > 0 {
		b.WriteString("\nQuestions:\n")
		for i, q := range task.Questions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, q)
			if i < len(task.UserAnswers) {
				fmt.Fprintf(&b, "     > %s\n", task.UserAnswers[i])
			}
		}
		if task.State == scheduler.TaskWaitingUserInput {
			b.WriteString(StyleStatusWaiting.Render("\nPress a to answer"))
			b.WriteString("\n")
		}
	}

	if msg := task.ErrorText(); msg != "" {
		fmt.Fprintf(&b, "\n%s\n", StyleError.Render("Error: "+msg))
	}
	if task.OutputText != "" {
		fmt.Fprintf(&b, "\n%s\n", task.OutputText)
	}

	return b.String()
}

// resizeViewport resizes the viewport based on pane dimensions.
func (m *TaskPaneModel) resizeViewport() {
	listWidth := min(30, m.width/3)
	viewportWidth := m.width - listWidth - 5
	viewportHeight := m.height - 4 // account for borders

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
	m.updateViewportContent()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
