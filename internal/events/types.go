package events

import (
	"encoding/json"

	"github.com/aristath/cowork/internal/scheduler"
)

// Event is the base interface for all cowork notifications.
type Event interface {
	// EventName is the wire channel name, e.g. "cowork://task-output".
	EventName() string
	SessionID() string
}

// Event name constants
const (
	EventSessionCreated   = "cowork://session-created"
	EventSessionState     = "cowork://session-state"
	EventPlanGenerated    = "cowork://plan-generated"
	EventPlanUpdated      = "cowork://plan-updated"
	EventNeedsUserInput   = "cowork://needs-user-input"
	EventTaskStateChanged = "cowork://task-state-changed"
	EventTaskOutput       = "cowork://task-output"
)

// SessionCreatedEvent is published when a session is created.
type SessionCreatedEvent struct {
	CoworkSessionID string                   `json:"coworkSessionId"`
	Goal            string                   `json:"goal"`
	Roster          []scheduler.RosterMember `json:"roster"`
	Timestamp       int64                    `json:"timestamp"`
}

func (e SessionCreatedEvent) EventName() string { return EventSessionCreated }
func (e SessionCreatedEvent) SessionID() string { return e.CoworkSessionID }

// SessionStateEvent is published whenever the session state is written.
type SessionStateEvent struct {
	CoworkSessionID string                 `json:"coworkSessionId"`
	State           scheduler.SessionState `json:"state"`
	Timestamp       int64                  `json:"timestamp"`
}

func (e SessionStateEvent) EventName() string { return EventSessionState }
func (e SessionStateEvent) SessionID() string { return e.CoworkSessionID }

// PlanEvent is published when a plan is generated or replaced, and when
// answers are recorded on one of its tasks.
type PlanEvent struct {
	Name string `json:"-"`
	// AnsweredTaskID is set when the update only records answers for that task.
	AnsweredTaskID  string           `json:"-"`
	CoworkSessionID string           `json:"coworkSessionId"`
	Tasks           []scheduler.Task `json:"tasks"`
	TaskOrder       []string         `json:"taskOrder"`
	Timestamp       int64            `json:"timestamp"`
}

func (e PlanEvent) EventName() string { return e.Name }
func (e PlanEvent) SessionID() string { return e.CoworkSessionID }

// NeedsUserInputEvent is published when a task parks on clarification questions.
type NeedsUserInputEvent struct {
	CoworkSessionID string   `json:"coworkSessionId"`
	TaskID          string   `json:"taskId"`
	Questions       []string `json:"questions"`
	Timestamp       int64    `json:"timestamp"`
}

func (e NeedsUserInputEvent) EventName() string { return EventNeedsUserInput }
func (e NeedsUserInputEvent) SessionID() string { return e.CoworkSessionID }

// TaskStateChangedEvent is published after every persisted task transition.
type TaskStateChangedEvent struct {
	CoworkSessionID string              `json:"coworkSessionId"`
	TaskID          string              `json:"taskId"`
	State           scheduler.TaskState `json:"state"`
	Assignee        string              `json:"assignee"`
	UpdatedAt       int64               `json:"updatedAtMs"`
	StartedAt       *int64              `json:"startedAtMs"`
	FinishedAt      *int64              `json:"finishedAtMs"`
	Error           *string             `json:"error"`
	Timestamp       int64               `json:"timestamp"`
}

func (e TaskStateChangedEvent) EventName() string { return EventTaskStateChanged }
func (e TaskStateChangedEvent) SessionID() string { return e.CoworkSessionID }

// TaskOutputEvent is published when a task completes with output.
type TaskOutputEvent struct {
	CoworkSessionID string `json:"coworkSessionId"`
	TaskID          string `json:"taskId"`
	OutputText      string `json:"outputText"`
	Timestamp       int64  `json:"timestamp"`
}

func (e TaskOutputEvent) EventName() string { return EventTaskOutput }
func (e TaskOutputEvent) SessionID() string { return e.CoworkSessionID }

// Envelope is the wire form of an event: its channel name and JSON payload.
type Envelope struct {
	Event   string `json:"event"`
	Payload Event  `json:"payload"`
}

// Marshal encodes e as an Envelope.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(Envelope{Event: e.EventName(), Payload: e})
}
