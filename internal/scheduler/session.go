package scheduler

import "strings"

// SessionState represents the lifecycle state of a cowork session.
type SessionState string

const (
	SessionDraft     SessionState = "draft"
	SessionPlanning  SessionState = "planning"
	SessionReady     SessionState = "ready"
	SessionRunning   SessionState = "running"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionCancelled SessionState = "cancelled"
	SessionError     SessionState = "error"
)

// Terminal reports whether the session has finished for good.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled || s == SessionError
}

// RosterMember is one named executor available to a session.
type RosterMember struct {
	ID           string  `json:"id"`
	Role         string  `json:"role"`
	AgentType    *string `json:"agentType,omitempty"`
	ExecutorType string  `json:"executorType"`
	Description  string  `json:"description"`
}

// Session is a goal, its roster and its task graph.
// Tasks is kept in TaskOrder order.
type Session struct {
	ID            string         `json:"coworkSessionId"`
	Goal          string         `json:"goal"`
	State         SessionState   `json:"state"`
	Roster        []RosterMember `json:"roster"`
	WorkspaceRoot string         `json:"workspaceRoot,omitempty"`
	TaskOrder     []string       `json:"taskOrder"`
	Tasks         []Task         `json:"tasks"`
	CreatedAt     int64          `json:"createdAtMs"`
	UpdatedAt     int64          `json:"updatedAtMs"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	cp := s
	if s.Roster != nil {
		cp.Roster = make([]RosterMember, len(s.Roster))
		for i, m := range s.Roster {
			cp.Roster[i] = m
			if m.AgentType != nil {
				v := *m.AgentType
				cp.Roster[i].AgentType = &v
			}
		}
	}
	if s.TaskOrder != nil {
		cp.TaskOrder = append([]string(nil), s.TaskOrder...)
	}
	if s.Tasks != nil {
		cp.Tasks = make([]Task, len(s.Tasks))
		for i, t := range s.Tasks {
			cp.Tasks[i] = t.Clone()
		}
	}
	return cp
}

// TaskByID returns the task with the given id.
func (s Session) TaskByID(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// TaskIndex maps task ids to tasks.
func (s Session) TaskIndex() map[string]Task {
	idx := make(map[string]Task, len(s.Tasks))
	for _, t := range s.Tasks {
		idx[t.ID] = t
	}
	return idx
}

// Member returns the roster member with the given id.
func (s Session) Member(id string) (RosterMember, bool) {
	for _, m := range s.Roster {
		if m.ID == id {
			return m, true
		}
	}
	return RosterMember{}, false
}

// Planner returns the roster member that decomposes goals: the member whose id or
// role is "planner", else the first member.
func (s Session) Planner() (RosterMember, bool) {
	for _, m := range s.Roster {
		if strings.EqualFold(m.ID, "planner") || strings.EqualFold(m.Role, "planner") {
			return m, true
		}
	}
	if len(s.Roster) == 0 {
		return RosterMember{}, false
	}
	return s.Roster[0], true
}

// OrderTasks returns tasks sorted to match order. Tasks missing from order are appended
// in their original position.
func OrderTasks(tasks []Task, order []string) []Task {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	out := make([]Task, 0, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for _, id := range order {
		if t, ok := byID[id]; ok && !seen[id] {
			out = append(out, t)
			seen[id] = true
		}
	}
	for _, t := range tasks {
		if !seen[t.ID] {
			out = append(out, t)
			seen[t.ID] = true
		}
	}
	return out
}
