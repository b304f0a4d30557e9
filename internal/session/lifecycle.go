package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/cowork/internal/scheduler"
)

// CreateRequest describes a new session.
type CreateRequest struct {
	Goal string `json:"goal"`
	// Roster defaults to the configured roster when empty.
	Roster        []scheduler.RosterMember `json:"roster,omitempty"`
	WorkspaceRoot string                   `json:"workspaceRoot,omitempty"`
}

// CreateSession registers a Draft session and returns its id.
func (s *Store) CreateSession(ctx context.Context, req CreateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return "", fmt.Errorf("%w: goal must not be empty", scheduler.ErrValidation)
	}
	roster := req.Roster
	if len(roster) == 0 {
		roster = s.cfg.DefaultRoster
	}
	if len(roster) == 0 {
		roster = DefaultRoster()
	}
	if err := validateRoster(roster); err != nil {
		return "", err
	}

	now := s.ts()
	e := &entry{
		sess: scheduler.Session{
			ID:            s.newID(),
			Goal:          goal,
			State:         scheduler.SessionDraft,
			Roster:        cloneRoster(roster),
			WorkspaceRoot: req.WorkspaceRoot,
			TaskOrder:     []string{},
			Tasks:         []scheduler.Task{},
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		wake: make(chan struct{}, 1),
	}

	s.mu.Lock()
	s.sessions[e.sess.ID] = e
	snap, rev := s.commit(e)
	s.mu.Unlock()

	s.save(e, snap, rev)
	s.logger.Info("session created", "session_id", snap.ID, "roster", len(snap.Roster))
	s.notify.SessionCreated(snap)
	return snap.ID, nil
}

// GeneratePlan asks the planner member for a plan and installs it. On
// failure the session returns to the state it had before planning.
func (s *Store) GeneratePlan(ctx context.Context, sessionID string) ([]scheduler.Task, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := e.sess.State
	switch prev {
	case scheduler.SessionRunning, scheduler.SessionPaused:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot generate a plan while session %s is %s", scheduler.ErrValidation, sessionID, prev)
	case scheduler.SessionPlanning:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s is already planning", scheduler.ErrValidation, sessionID)
	}
	member, ok := e.sess.Planner()
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s has an empty roster", scheduler.ErrValidation, sessionID)
	}
	goal, roster := e.sess.Goal, cloneRoster(e.sess.Roster)
	planCtx, stop := context.WithCancel(ctx)
	defer stop()
	e.stopPlan = stop
	snap, rev := s.setState(e, scheduler.SessionPlanning)
	s.mu.Unlock()

	s.save(e, snap, rev)
	s.notify.SessionState(sessionID, scheduler.SessionPlanning)
	s.logger.Info("generating plan", "session_id", sessionID, "planner", member.ID)

	tasks, err := s.plans.Generate(planCtx, sessionID, member, goal, roster)
	if err == nil {
		if _, verr := scheduler.ValidateGraph(tasks); verr != nil {
			err = fmt.Errorf("%w: planner produced an unusable task graph: %v", scheduler.ErrAIClient, verr)
		}
	}

	s.mu.Lock()
	e.stopPlan = nil
	if e.deleted || e.sess.State != scheduler.SessionPlanning {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s stopped planning before the plan arrived", scheduler.ErrCancelled, sessionID)
	}
	if err != nil {
		snap, rev = s.setState(e, prev)
		s.mu.Unlock()

		s.save(e, snap, rev)
		s.notify.SessionState(sessionID, prev)
		s.logger.Warn("plan generation failed", "session_id", sessionID, "error", err)
		return nil, err
	}
	e.sess.Tasks = cloneTasks(tasks)
	e.sess.TaskOrder = taskIDs(tasks)
	snap, rev = s.setState(e, scheduler.SessionReady)
	s.mu.Unlock()

	s.save(e, snap, rev)
	s.notify.SessionState(sessionID, scheduler.SessionReady)
	s.notify.PlanGenerated(snap)
	return cloneTasks(snap.Tasks), nil
}

// UpdatePlan replaces the task graph. Nothing changes when validation fails.
// An empty taskOrder keeps the order of tasks.
func (s *Store) UpdatePlan(ctx context.Context, sessionID string, tasks []scheduler.Task, taskOrder []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	plan := normalizeTasks(tasks, s.ts())
	if err := checkPlanStates(plan); err != nil {
		return err
	}
	if _, err := scheduler.ValidateGraph(plan); err != nil {
		return err
	}
	order := append([]string(nil), taskOrder...)
	if len(order) == 0 {
		order = taskIDs(plan)
	}
	if err := scheduler.ValidateOrder(plan, order); err != nil {
		return err
	}

	s.mu.Lock()
	switch e.sess.State {
	case scheduler.SessionRunning:
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot update the plan of running session %s; pause it first", scheduler.ErrValidation, sessionID)
	case scheduler.SessionPlanning:
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is planning", scheduler.ErrValidation, sessionID)
	}
	for _, t := range e.sess.Tasks {
		if t.State == scheduler.TaskRunning {
			s.mu.Unlock()
			return fmt.Errorf("%w: task %s of session %s is still running", scheduler.ErrValidation, t.ID, sessionID)
		}
	}
	for _, t := range plan {
		if _, ok := e.sess.Member(t.Assignee); !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: assignee %q of task %q not found in roster", scheduler.ErrValidation, t.Assignee, t.ID)
		}
	}
	e.sess.Tasks = scheduler.OrderTasks(plan, order)
	e.sess.TaskOrder = order
	snap, rev := s.setState(e, scheduler.SessionReady)
	s.mu.Unlock()

	s.save(e, snap, rev)
	s.logger.Info("plan updated", "session_id", sessionID, "tasks", len(snap.Tasks))
	s.notify.SessionState(sessionID, scheduler.SessionReady)
	s.notify.PlanUpdated(snap)
	return nil
}

// Start runs the session. Starting a Paused session resumes it; starting a
// Running session does nothing. At most one scheduler loop runs per session.
func (s *Store) Start(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	s.mu.Lock()
	state := e.sess.State
	switch {
	case state == scheduler.SessionRunning:
		s.mu.Unlock()
		return nil
	case state == scheduler.SessionDraft || state == scheduler.SessionPlanning:
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s has no plan yet", scheduler.ErrValidation, sessionID)
	case state.Terminal():
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s; update its plan to run it again", scheduler.ErrValidation, sessionID, state)
	}
	if _, err := scheduler.ValidateGraph(e.sess.Tasks); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.closed.Load() {
		s.mu.Unlock()
		return fmt.Errorf("%w: session store is closed", scheduler.ErrCancelled)
	}

	var runCtx context.Context
	launch := e.guard.TryLock()
	if launch {
		runCtx, e.stopLoop = context.WithCancel(s.base)
		s.loops.Add(1)
	}
	snap, rev := s.setState(e, scheduler.SessionRunning)
	s.mu.Unlock()

	s.save(e, snap, rev)
	s.notify.SessionState(sessionID, scheduler.SessionRunning)

	if !launch {
		s.logger.Info("session resumed", "session_id", sessionID)
		return nil
	}
	s.logger.Info("session started", "session_id", sessionID, "from", state, "tasks", len(snap.Tasks))
	go s.run(runCtx, e, sessionID)
	return nil
}

// run drives the session's scheduler loop while holding its guard.
func (s *Store) run(ctx context.Context, e *entry, sessionID string) {
	defer s.loops.Done()

	cfg := s.cfg.Loop
	cfg.Wake = e.wake
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}

	for {
		err := scheduler.NewLoop(sessionID, s, s.exec, s.notify, cfg).Run(ctx)
		if err != nil {
			s.logger.Error("scheduler loop failed", "session_id", sessionID, "error", err)
			if uerr := s.UpdateSessionState(sessionID, scheduler.SessionError); uerr != nil &&
				!errors.Is(uerr, scheduler.ErrInvalidTransition) && !errors.Is(uerr, scheduler.ErrNotFound) {
				s.logger.Warn("failed to mark session as errored", "session_id", sessionID, "error", uerr)
			}
		}

		s.mu.Lock()
		// The plan may have been replaced and the session restarted while
		// the loop was returning.
		if err == nil && ctx.Err() == nil && !e.deleted && e.sess.State == scheduler.SessionRunning {
			s.mu.Unlock()
			continue
		}
		stop := e.stopLoop
		e.stopLoop = nil
		e.guard.Unlock()
		s.mu.Unlock()

		if stop != nil {
			stop()
		}
		return
	}
}

// Pause stops new dispatches. Running tasks finish normally.
func (s *Store) Pause(sessionID string) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	switch e.sess.State {
	case scheduler.SessionPaused:
		s.mu.Unlock()
		return nil
	case scheduler.SessionRunning:
	default:
		state := e.sess.State
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s, not running", scheduler.ErrValidation, sessionID, state)
	}
	snap, rev := s.setState(e, scheduler.SessionPaused)
	s.mu.Unlock()

	s.save(e, snap, rev)
	s.logger.Info("session paused", "session_id", sessionID)
	s.notify.SessionState(sessionID, scheduler.SessionPaused)
	return nil
}

// Cancel stops the session for good. It is idempotent: the session becomes
// Cancelled exactly once, by its scheduler loop when one is running and by
// Cancel itself otherwise.
func (s *Store) Cancel(sessionID string) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	s.mu.Lock()
	if e.sess.State.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if stop := e.stopLoop; stop != nil {
		s.mu.Unlock()
		s.logger.Info("cancelling session", "session_id", sessionID)
		stop()
		return nil
	}
	if e.stopPlan != nil {
		e.stopPlan()
	}
	snap, rev := s.setState(e, scheduler.SessionCancelled)
	s.mu.Unlock()

	s.save(e, snap, rev)
	s.logger.Info("session cancelled", "session_id", sessionID)
	s.notify.SessionState(sessionID, scheduler.SessionCancelled)
	return nil
}

// SubmitUserInput stores answers on a task. A task waiting for input becomes
// Ready.
func (s *Store) SubmitUserInput(sessionID, taskID string, answers []string) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	idx := taskPosition(e.sess, taskID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: task not found: %s", scheduler.ErrNotFound, taskID)
	}
	clean := trimAll(answers)
	if len(clean) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: answers must not be empty", scheduler.ErrValidation)
	}
	before := e.sess.Tasks[idx]
	if before.State.Terminal() || before.State == scheduler.TaskRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", scheduler.ErrValidation, taskID, before.State)
	}
	after := before.Clone()
	after.UserAnswers = clean
	if after.State == scheduler.TaskWaitingUserInput {
		after.State = scheduler.TaskReady
	}
	after.UpdatedAt = s.ts()
	if err := scheduler.CheckTransition(before, after); err != nil {
		s.mu.Unlock()
		return err
	}
	e.sess.Tasks[idx] = after
	e.sess.UpdatedAt = after.UpdatedAt
	snap, rev := s.commit(e)
	s.mu.Unlock()

	s.save(e, snap, rev)
	s.logger.Info("user input submitted", "session_id", sessionID, "task_id", taskID, "answers", len(clean))
	if after.State != before.State {
		s.notify.TaskStateChanged(sessionID, after)
	}
	s.notify.AnswersSubmitted(snap, taskID)
	return nil
}

// Delete forgets a session that has no scheduler loop running.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	s.mu.Lock()
	if e.stopLoop != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is still scheduled; cancel it first", scheduler.ErrValidation, sessionID)
	}
	if e.stopPlan != nil {
		e.stopPlan()
	}
	e.deleted = true
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if s.persist != nil && !s.closed.Load() {
		e.saveMu.Lock()
		err := s.persist.DeleteSession(ctx, sessionID)
		e.saveMu.Unlock()
		if err != nil {
			s.logger.Warn("failed to delete persisted session", "session_id", sessionID, "error", err)
		}
	}
	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// normalizeTasks copies tasks and fills defaults for omitted fields.
func normalizeTasks(tasks []scheduler.Task, now int64) []scheduler.Task {
	out := cloneTasks(tasks)
	for i := range out {
		t := &out[i]
		if t.State == "" {
			t.State = scheduler.TaskDraft
		}
		if t.ResourceMode == "" {
			t.ResourceMode = scheduler.WorkspaceWrite
		}
		if t.Deps == nil {
			t.Deps = []string{}
		}
		if t.Questions == nil {
			t.Questions = []string{}
		}
		if t.UserAnswers == nil {
			t.UserAnswers = []string{}
		}
		if t.CreatedAt == 0 {
			t.CreatedAt = now
		}
		if t.UpdatedAt == 0 {
			t.UpdatedAt = now
		}
	}
	return out
}

// checkPlanStates rejects states a replacement plan cannot start from. Only
// the loop moves a task to running, and a task waits for input only while it
// has unanswered questions.
func checkPlanStates(plan []scheduler.Task) error {
	for _, t := range plan {
		switch t.State {
		case scheduler.TaskDraft, scheduler.TaskReady, scheduler.TaskBlocked,
			scheduler.TaskCompleted, scheduler.TaskFailed, scheduler.TaskCancelled:
		case scheduler.TaskWaitingUserInput:
			if !t.NeedsUserInput() {
				return fmt.Errorf("%w: task %q waits for input but has no unanswered questions", scheduler.ErrValidation, t.ID)
			}
		case scheduler.TaskRunning:
			return fmt.Errorf("%w: task %q cannot be planned as running", scheduler.ErrValidation, t.ID)
		default:
			return fmt.Errorf("%w: task %q has unknown state %q", scheduler.ErrValidation, t.ID, t.State)
		}
	}
	return nil
}

func cloneTasks(tasks []scheduler.Task) []scheduler.Task {
	out := make([]scheduler.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

func taskIDs(tasks []scheduler.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
