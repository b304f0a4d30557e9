package planner

import (
	"fmt"
	"strings"

	"github.com/aristath/cowork/internal/scheduler"
)

// BuildPrompt renders the decomposition request sent to the planner member.
func BuildPrompt(goal string, roster []scheduler.RosterMember) string {
	lines := make([]string, len(roster))
	for i, m := range roster {
		line := fmt.Sprintf("- role: %s, id: %s, executorType: %s", m.Role, m.ID, m.ExecutorType)
		if m.AgentType != nil && *m.AgentType != "" {
			line += ", agentType: " + *m.AgentType
		}
		if m.Description != "" {
			line += ", description: " + m.Description
		}
		lines[i] = line
	}

	var b strings.Builder
	b.WriteString("You are the Planner in a multi-agent cowork session.\n\n")
	fmt.Fprintf(&b, "Goal:\n%s\n\n", goal)
	b.WriteString("Available roles (you MUST assign each task to one of these roles by role name):\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString(`

Your job:
- Decompose the goal into a small set of actionable tasks (5-12 tasks).
- Tasks should be concrete and independently executable.
- Prefer parallelizable tasks and keep dependencies minimal.
- Distribute tasks across roles when reasonable.
- Add dependencies via task indices (0-based) to express ordering constraints.
- Mark tasks that only read, research or review as read_only; they may run in parallel.
- For each task, optionally add questions if human input is needed before running.

Output STRICT JSON ONLY (no markdown, no commentary) with this schema:
{
  "tasks": [
    {
      "title": "string",
      "description": "string",
      "deps": [0, 2],
      "assigneeRole": "Planner|Developer|Reviewer|Researcher|...",
      "resourceMode": "read_only|workspace_write",
      "questions": ["string", "string"]
    }
  ]
}

Notes:
- deps are indices into the tasks array, not ids.
- Keep descriptions short but precise.
`)
	return b.String()
}
