package events

import (
	"time"

	"github.com/aristath/cowork/internal/scheduler"
)

// Notifier turns session and task changes into events on a bus, using the
// session id as topic.
type Notifier struct {
	bus *EventBus
	now func() time.Time
}

// NewNotifier creates a Notifier publishing to bus.
func NewNotifier(bus *EventBus) *Notifier {
	return &Notifier{bus: bus, now: time.Now}
}

func (n *Notifier) ts() int64 { return n.now().UnixMilli() }

// SessionCreated publishes session-created.
func (n *Notifier) SessionCreated(sess scheduler.Session) {
	n.bus.Publish(sess.ID, SessionCreatedEvent{
		CoworkSessionID: sess.ID,
		Goal:            sess.Goal,
		Roster:          sess.Roster,
		Timestamp:       n.ts(),
	})
}

// SessionState publishes session-state.
func (n *Notifier) SessionState(sessionID string, state scheduler.SessionState) {
	n.bus.Publish(sessionID, SessionStateEvent{
		CoworkSessionID: sessionID,
		State:           state,
		Timestamp:       n.ts(),
	})
}

// PlanGenerated publishes plan-generated.
func (n *Notifier) PlanGenerated(sess scheduler.Session) {
	n.publishPlan(EventPlanGenerated, sess)
}

// PlanUpdated publishes plan-updated.
func (n *Notifier) PlanUpdated(sess scheduler.Session) {
	n.publishPlan(EventPlanUpdated, sess)
}

// AnswersSubmitted publishes plan-updated after answers are stored on taskID.
func (n *Notifier) AnswersSubmitted(sess scheduler.Session, taskID string) {
	n.publishPlanFor(EventPlanUpdated, sess, taskID)
}

func (n *Notifier) publishPlan(name string, sess scheduler.Session) {
	n.publishPlanFor(name, sess, "")
}

func (n *Notifier) publishPlanFor(name string, sess scheduler.Session, answeredTaskID string) {
	n.bus.Publish(sess.ID, PlanEvent{
		Name:            name,
		AnsweredTaskID:  answeredTaskID,
		CoworkSessionID: sess.ID,
		Tasks:           sess.Tasks,
		TaskOrder:       sess.TaskOrder,
		Timestamp:       n.ts(),
	})
}

// NeedsUserInput publishes needs-user-input.
func (n *Notifier) NeedsUserInput(sessionID string, task scheduler.Task) {
	n.bus.Publish(sessionID, NeedsUserInputEvent{
		CoworkSessionID: sessionID,
		TaskID:          task.ID,
		Questions:       task.Questions,
		Timestamp:       n.ts(),
	})
}

// TaskStateChanged publishes task-state-changed.
func (n *Notifier) TaskStateChanged(sessionID string, task scheduler.Task) {
	n.bus.Publish(sessionID, TaskStateChangedEvent{
		CoworkSessionID: sessionID,
		TaskID:          task.ID,
		State:           task.State,
		Assignee:        task.Assignee,
		UpdatedAt:       task.UpdatedAt,
		StartedAt:       task.StartedAt,
		FinishedAt:      task.FinishedAt,
		Error:           task.Error,
		Timestamp:       n.ts(),
	})
}

// TaskOutput publishes task-output.
func (n *Notifier) TaskOutput(sessionID string, task scheduler.Task) {
	n.bus.Publish(sessionID, TaskOutputEvent{
		CoworkSessionID: sessionID,
		TaskID:          task.ID,
		OutputText:      task.OutputText,
		Timestamp:       n.ts(),
	})
}
