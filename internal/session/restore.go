package session

import (
	"context"
	"fmt"

	"github.com/aristath/cowork/internal/scheduler"
)

// interruptedError is recorded on tasks that were running when the process
// stopped.
const interruptedError = "interrupted by restart"

// Restore loads persisted sessions that are not already registered. Sessions
// that were running come back Paused and their running tasks come back Failed;
// sessions that were planning come back Draft. It returns the number of
// sessions restored.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	loaded, err := s.persist.LoadSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load sessions: %w", err)
	}

	now := s.ts()
	restored := 0
	for _, sess := range loaded {
		recoverSession(&sess, now)

		s.mu.Lock()
		if _, exists := s.sessions[sess.ID]; exists {
			s.mu.Unlock()
			continue
		}
		e := &entry{sess: sess, wake: make(chan struct{}, 1)}
		s.sessions[sess.ID] = e
		snap, rev := s.commit(e)
		s.mu.Unlock()

		s.save(e, snap, rev)
		restored++
		s.logger.Debug("session restored", "session_id", sess.ID, "state", sess.State, "tasks", len(sess.Tasks))
	}

	s.logger.Info("sessions restored", "count", restored)
	return restored, nil
}

// recoverSession rewrites states that cannot survive a restart.
func recoverSession(sess *scheduler.Session, now int64) {
	switch sess.State {
	case scheduler.SessionRunning, scheduler.SessionPaused:
		sess.State = scheduler.SessionPaused
	case scheduler.SessionPlanning:
		sess.State = scheduler.SessionDraft
	}

	if sess.Roster == nil {
		sess.Roster = []scheduler.RosterMember{}
	}
	if sess.Tasks == nil {
		sess.Tasks = []scheduler.Task{}
	}
	sess.Tasks = normalizeTasks(sess.Tasks, now)
	sess.TaskOrder = taskIDs(sess.Tasks)

	for i := range sess.Tasks {
		t := &sess.Tasks[i]
		if t.State != scheduler.TaskRunning {
			continue
		}
		t.State = scheduler.TaskFailed
		t.SetError(interruptedError)
		t.UpdatedAt = now
		t.FinishedAt = &now
	}
}

// Close stops every scheduler loop and pending plan generation, then waits
// for the loops to exit or ctx to end. Changes made after Close are not
// persisted, so stored sessions keep their pre-shutdown state and come back
// through Restore.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed.Store(true)
	for _, e := range s.sessions {
		if e.stopPlan != nil {
			e.stopPlan()
		}
	}
	s.mu.Unlock()

	s.stopAll()

	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduler loops: %w", ctx.Err())
	}
}
