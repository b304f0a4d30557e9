package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/cowork/internal/scheduler"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusWaiting = lipgloss.NewStyle().
				Foreground(lipgloss.Color("magenta")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleError = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))
)

// taskStyle returns the style used for a task state.
func taskStyle(state scheduler.TaskState) lipgloss.Style {
	switch state {
	case scheduler.TaskRunning:
		return StyleStatusRunning
	case scheduler.TaskCompleted:
		return StyleStatusComplete
	case scheduler.TaskFailed, scheduler.TaskBlocked:
		return StyleStatusFailed
	case scheduler.TaskWaitingUserInput:
		return StyleStatusWaiting
	default:
		return StyleStatusPending
	}
}

// sessionStyle returns the style used for a session state.
func sessionStyle(state scheduler.SessionState) lipgloss.Style {
	switch state {
	case scheduler.SessionRunning, scheduler.SessionPlanning:
		return StyleStatusRunning
	case scheduler.SessionCompleted:
		return StyleStatusComplete
	case scheduler.SessionError:
		return StyleStatusFailed
	case scheduler.SessionPaused:
		return StyleStatusWaiting
	default:
		return StyleStatusPending
	}
}
