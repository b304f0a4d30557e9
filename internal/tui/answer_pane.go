package tui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
)

// answersSubmittedMsg carries the answers collected for a task.
type answersSubmittedMsg struct {
	taskID  string
	answers []string
}

// AnswerPaneModel is a modal form with one input per clarification question.
type AnswerPaneModel struct {
	form    *huh.Form
	taskID  string
	answers []string // bound to the form inputs
	visible bool
	width   int
	height  int
}

// NewAnswerPaneModel builds the form for a task's questions.
func NewAnswerPaneModel(taskID string, questions []string) AnswerPaneModel {
	m := AnswerPaneModel{
		taskID:  taskID,
		answers: make([]string, len(questions)),
		visible: true,
	}

	fields := make([]huh.Field, 0, len(questions))
	for i, q := range questions {
		fields = append(fields, huh.NewInput().
			Key(fmt.Sprintf("answer-%d", i)).
			Title(q).
			Value(&m.answers[i]).
			Validate(requireAnswer))
	}
	m.form = huh.NewForm(huh.NewGroup(fields...)).
		WithShowHelp(false)
	return m
}

func requireAnswer(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("answer is required")
	}
	return nil
}

// Init initializes the form.
func (m AnswerPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update routes input to the form and emits answersSubmittedMsg once it completes.
func (m AnswerPaneModel) Update(msg tea.Msg) (AnswerPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.visible = false
		answers := make([]string, len(m.answers))
		for i, a := range m.answers {
			answers[i] = strings.TrimSpace(a)
		}
		taskID := m.taskID
		return m, func() tea.Msg {
			return answersSubmittedMsg{taskID: taskID, answers: answers}
		}
	case huh.StateAborted:
		m.visible = false
		return m, nil
	}

	return m, cmd
}

// View renders the form.
func (m AnswerPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render("Answer questions for " + m.taskID))
	b.WriteString("\n\n")
	b.WriteString(m.form.View())
	b.WriteString("\n")
	b.WriteString(StyleHelp.Render("enter: next / submit | esc: cancel"))

	return StyleFocusedBorder.
		Width(max(0, m.width-2)).
		Height(max(0, m.height-2)).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *AnswerPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil && w > 8 && h > 8 {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// IsVisible reports whether the form is still open.
func (m AnswerPaneModel) IsVisible() bool {
	return m.visible
}
