package session

import (
	"fmt"
	"strings"

	"github.com/aristath/cowork/internal/scheduler"
)

// DefaultExecutorType is the executor type of the built-in roster.
const DefaultExecutorType = "explore"

func agentType(s string) *string { return &s }

// DefaultRoster returns the roster used when a session is created without one.
func DefaultRoster() []scheduler.RosterMember {
	return []scheduler.RosterMember{
		{
			ID:           "planner",
			Role:         "Planner",
			AgentType:    agentType("task_agent"),
			ExecutorType: DefaultExecutorType,
			Description:  "Decompose goals into tasks",
		},
		{
			ID:           "developer",
			Role:         "Developer",
			AgentType:    agentType("developer_agent"),
			ExecutorType: DefaultExecutorType,
			Description:  "Execute implementation tasks",
		},
		{
			ID:           "reviewer",
			Role:         "Reviewer",
			AgentType:    agentType("coordinator_agent"),
			ExecutorType: DefaultExecutorType,
			Description:  "Review outputs and catch issues",
		},
		{
			ID:           "researcher",
			Role:         "Researcher",
			AgentType:    agentType("browser_agent"),
			ExecutorType: DefaultExecutorType,
			Description:  "Investigate unknowns and gather context",
		},
	}
}

// validateRoster checks member ids are present and unique.
func validateRoster(roster []scheduler.RosterMember) error {
	seen := make(map[string]bool, len(roster))
	for i, m := range roster {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return fmt.Errorf("%w: roster member %d has no id", scheduler.ErrValidation, i)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate roster member id %q", scheduler.ErrValidation, id)
		}
		if strings.TrimSpace(m.ExecutorType) == "" {
			return fmt.Errorf("%w: roster member %q has no executor type", scheduler.ErrValidation, id)
		}
		seen[id] = true
	}
	return nil
}

func cloneRoster(roster []scheduler.RosterMember) []scheduler.RosterMember {
	return scheduler.Session{Roster: roster}.Clone().Roster
}
