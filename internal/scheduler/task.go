package scheduler

import (
	"encoding/json"
	"fmt"
)

// TaskState represents the current state of a task.
type TaskState string

const (
	TaskDraft            TaskState = "draft"              // Produced by the planner, not yet evaluated
	TaskReady            TaskState = "ready"              // Eligible once dependencies complete
	TaskBlocked          TaskState = "blocked"            // A dependency can never succeed
	TaskRunning          TaskState = "running"            // Dispatched to an executor
	TaskWaitingUserInput TaskState = "waiting_user_input" // Has unanswered clarification questions
	TaskCompleted        TaskState = "completed"          // Finished successfully
	TaskFailed           TaskState = "failed"             // Finished with error
	TaskCancelled        TaskState = "cancelled"          // Aborted by cancellation
)

// Terminal reports whether no further transition is possible from s.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskBlocked:
		return true
	}
	return false
}

// failedOutcome reports whether s prevents dependents from ever running.
func (s TaskState) failedOutcome() bool {
	return s == TaskFailed || s == TaskCancelled || s == TaskBlocked
}

var allowedTaskTransitions = map[TaskState]map[TaskState]struct{}{
	TaskDraft: {
		TaskReady:            {},
		TaskRunning:          {},
		TaskWaitingUserInput: {},
		TaskBlocked:          {},
		TaskCancelled:        {},
	},
	TaskReady: {
		TaskRunning:          {},
		TaskWaitingUserInput: {},
		TaskBlocked:          {},
		TaskCancelled:        {},
	},
	TaskWaitingUserInput: {
		TaskReady:     {},
		TaskBlocked:   {},
		TaskCancelled: {},
	},
	TaskRunning: {
		TaskCompleted: {},
		TaskFailed:    {},
		TaskCancelled: {},
	},
}

// CanTransition reports whether a task may move from one state to another.
// Staying in the same state is always allowed.
func CanTransition(from, to TaskState) bool {
	if from == to {
		return true
	}
	_, ok := allowedTaskTransitions[from][to]
	return ok
}

// ResourceMode tells the scheduler whether a task mutates the shared workspace.
type ResourceMode string

const (
	// ReadOnly tasks may run in parallel with any other task.
	ReadOnly ResourceMode = "read_only"
	// WorkspaceWrite tasks are serialized: at most one runs per session.
	WorkspaceWrite ResourceMode = "workspace_write"
)

// ParseResourceMode maps a planner hint to a ResourceMode.
// Anything other than a read-only hint is treated as a workspace write.
func ParseResourceMode(hint string) ResourceMode {
	switch hint {
	case "read_only", "readonly", "read-only", "ReadOnly":
		return ReadOnly
	}
	return WorkspaceWrite
}

// Task represents a unit of work in a session's plan.
type Task struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Deps         []string     `json:"deps"`
	Assignee     string       `json:"assignee"` // Roster member id
	State        TaskState    `json:"state"`
	ResourceMode ResourceMode `json:"resourceMode"`
	Questions    []string     `json:"questions"`
	UserAnswers  []string     `json:"userAnswers"`
	OutputText   string       `json:"outputText"`
	Error        *string      `json:"error,omitempty"`
	CreatedAt    int64        `json:"createdAtMs"`
	UpdatedAt    int64        `json:"updatedAtMs"`
	StartedAt    *int64       `json:"startedAtMs,omitempty"`
	FinishedAt   *int64       `json:"finishedAtMs,omitempty"`
}

// UnmarshalJSON applies the WorkspaceWrite default when resourceMode is omitted.
func (t *Task) UnmarshalJSON(data []byte) error {
	type rawTask Task
	raw := rawTask{ResourceMode: WorkspaceWrite}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ResourceMode == "" {
		raw.ResourceMode = WorkspaceWrite
	}
	*t = Task(raw)
	return nil
}

// NeedsUserInput reports whether the HITL gate still holds the task back.
func (t Task) NeedsUserInput() bool {
	return len(t.Questions) > 0 && len(t.UserAnswers) == 0
}

// hitlSatisfied reports whether the task may be dispatched as far as HITL is concerned.
func (t Task) hitlSatisfied() bool {
	if len(t.Questions) == 0 {
		return true
	}
	return len(t.UserAnswers) > 0 && t.State != TaskWaitingUserInput
}

// ErrorText returns the error message or "" when the task has none.
func (t Task) ErrorText() string {
	if t.Error == nil {
		return ""
	}
	return *t.Error
}

// SetError records msg as the task error.
func (t *Task) SetError(msg string) {
	t.Error = &msg
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	cp := t
	if t.Deps != nil {
		cp.Deps = append([]string(nil), t.Deps...)
	}
	if t.Questions != nil {
		cp.Questions = append([]string(nil), t.Questions...)
	}
	if t.UserAnswers != nil {
		cp.UserAnswers = append([]string(nil), t.UserAnswers...)
	}
	if t.Error != nil {
		e := *t.Error
		cp.Error = &e
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		cp.FinishedAt = &v
	}
	return cp
}

// CheckTransition returns ErrInvalidTransition when replacing before with after
// breaks the transition table.
func CheckTransition(before, after Task) error {
	if !CanTransition(before.State, after.State) {
		return fmt.Errorf("%w: task %q %s -> %s", ErrInvalidTransition, before.ID, before.State, after.State)
	}
	return nil
}
