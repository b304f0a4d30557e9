package scheduler

import (
	"fmt"
	"strings"
)

// DefaultMaxDepOutputChars bounds each dependency output quoted in a task prompt.
const DefaultMaxDepOutputChars = 2000

const truncationMarker = "...\n[truncated]"

// BuildTaskPrompt renders the worker prompt for task: the goal, the task
// itself, the outputs of its dependencies (each truncated to maxDepChars runes),
// the user's answers and the resource-mode instruction.
func BuildTaskPrompt(goal string, task Task, byID map[string]Task, maxDepChars int) string {
	if maxDepChars <= 0 {
		maxDepChars = DefaultMaxDepOutputChars
	}

	var deps strings.Builder
	for _, depID := range task.Deps {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		fmt.Fprintf(&deps, "\n- %s: %s\n  Output:\n%s\n", dep.ID, dep.Title, Truncate(dep.OutputText, maxDepChars))
	}
	depSection := deps.String()
	if depSection == "" {
		depSection = "None"
	}

	answers := "N/A"
	if len(task.UserAnswers) > 0 {
		lines := make([]string, len(task.UserAnswers))
		for i, a := range task.UserAnswers {
			lines[i] = fmt.Sprintf("%d. %s", i+1, a)
		}
		answers = strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("You are a cowork worker executing one task within a multi-agent plan.\n\n")
	fmt.Fprintf(&b, "Overall goal:\n%s\n\n", goal)
	b.WriteString("Task:\n")
	fmt.Fprintf(&b, "- id: %s\n- title: %s\n- description: %s\n- resourceMode: %s\n\n",
		task.ID, task.Title, task.Description, task.ResourceMode)
	fmt.Fprintf(&b, "Dependencies (completed):\n%s\n\n", depSection)
	fmt.Fprintf(&b, "User-provided answers (if any):\n%s\n\n", answers)
	b.WriteString("Deliver:\n")
	b.WriteString("- Provide the concrete output for this task.\n")
	if task.ResourceMode == ReadOnly {
		b.WriteString("- This task is read_only: DO NOT modify the workspace (no file writes, no destructive commands). Focus on analysis, research or review output.\n")
	} else {
		b.WriteString("- This task may modify the workspace. No other writing task runs at the same time.\n")
	}
	b.WriteString("- If you need clarification to proceed, list questions clearly (but still do as much as possible).\n")
	return b.String()
}

// Truncate shortens s to at most max runes, appending a truncation marker when
// anything was cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + truncationMarker
		}
		n++
	}
	return s
}
