package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/cowork/internal/scheduler"
)

// Progress counts tasks by outcome.
type Progress struct {
	Total     int
	Completed int
	Running   int
	Waiting   int
	Failed    int // failed or blocked
	Cancelled int
	Pending   int
}

// CountProgress tallies tasks by state.
func CountProgress(tasks []scheduler.Task) Progress {
	p := Progress{Total: len(tasks)}
	for _, t := range tasks {
		switch t.State {
		case scheduler.TaskCompleted:
			p.Completed++
		case scheduler.TaskRunning:
			p.Running++
		case scheduler.TaskWaitingUserInput:
			p.Waiting++
		case scheduler.TaskFailed, scheduler.TaskBlocked:
			p.Failed++
		case scheduler.TaskCancelled:
			p.Cancelled++
		default:
			p.Pending++
		}
	}
	return p
}

// ProgressPaneModel shows the session state and task counts.
type ProgressPaneModel struct {
	sessionID string
	goal      string
	state     scheduler.SessionState
	progress  Progress
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates a progress pane for a session.
func NewProgressPaneModel(sess scheduler.Session) ProgressPaneModel {
	return ProgressPaneModel{
		sessionID: sess.ID,
		goal:      sess.Goal,
		state:     sess.State,
		progress:  CountProgress(sess.Tasks),
	}
}

// SetState records the latest session state.
func (m *ProgressPaneModel) SetState(state scheduler.SessionState) {
	m.state = state
}

// SetTasks recomputes the counts.
func (m *ProgressPaneModel) SetTasks(tasks []scheduler.Task) {
	m.progress = CountProgress(tasks)
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Session " + m.sessionID)
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Goal:      %s\n", m.goal)
	fmt.Fprintf(&b, "State:     %s\n\n", sessionStyle(m.state).Render(string(m.state)))

	p := m.progress
	fmt.Fprintf(&b, "Total:     %d\n", p.Total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", p.Completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", p.Running)))
	fmt.Fprintf(&b, "Waiting:   %s\n", StyleStatusWaiting.Render(fmt.Sprintf("%d", p.Waiting)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", p.Failed)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", p.Pending+p.Cancelled)))

	b.WriteString("\n")

	if p.Total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (p.Completed * barWidth) / p.Total
		failedWidth := (p.Failed * barWidth) / p.Total
		runningWidth := ((p.Running + p.Waiting) * barWidth) / p.Total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, p.Completed, p.Total)
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

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
