package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store holding a single session.
type memStore struct {
	mu     sync.Mutex
	sess   Session
	states []SessionState
	wake   chan struct{}

	// onSnapshot, if set, runs under the lock after the nth snapshot is
	// copied, so the caller holds the state from before the hook.
	onSnapshot func(n int, sess *Session)
	snapshots  int
}

func newMemStore(sess Session) *memStore {
	sess.TaskOrder = nil
	for _, t := range sess.Tasks {
		sess.TaskOrder = append(sess.TaskOrder, t.ID)
	}
	if sess.ID == "" {
		sess.ID = "cowork-test"
	}
	if sess.State == "" {
		sess.State = SessionRunning
	}
	return &memStore{sess: sess, wake: make(chan struct{}, 1)}
}

func (s *memStore) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memStore) Snapshot(sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.sess.ID {
		return Session{}, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	out := s.sess.Clone()
	s.snapshots++
	if s.onSnapshot != nil {
		s.onSnapshot(s.snapshots, &s.sess)
	}
	return out, nil
}

func (s *memStore) MutateTask(sessionID, taskID string, fn func(*Task) error) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.sess.Tasks {
		if t.ID != taskID {
			continue
		}
		cp := t.Clone()
		if err := fn(&cp); err != nil {
			return Task{}, err
		}
		if err := CheckTransition(t, cp); err != nil {
			return Task{}, err
		}
		if cp.State == TaskRunning && t.State != TaskRunning && s.sess.State != SessionRunning {
			return Task{}, fmt.Errorf("%w: task %s", ErrNotRunning, taskID)
		}
		s.sess.Tasks[i] = cp
		s.kick()
		return cp.Clone(), nil
	}
	return Task{}, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
}

func (s *memStore) UpdateSessionState(sessionID string, state SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.State = state
	s.states = append(s.states, state)
	s.kick()
	return nil
}

func (s *memStore) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.State = state
	s.kick()
}

func (s *memStore) answer(taskID string, answers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sess.Tasks {
		if s.sess.Tasks[i].ID == taskID {
			s.sess.Tasks[i].UserAnswers = answers
			if s.sess.Tasks[i].State == TaskWaitingUserInput {
				s.sess.Tasks[i].State = TaskReady
			}
		}
	}
	s.kick()
}

func (s *memStore) task(id string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _ := s.sess.TaskByID(id)
	return t
}

func (s *memStore) sessionStates() []SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SessionState(nil), s.states...)
}

// recordingNotifier records every notification in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	states map[string][]TaskState
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{states: make(map[string][]TaskState)}
}

func (n *recordingNotifier) TaskStateChanged(sessionID string, task Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("state:%s:%s", task.ID, task.State))
	n.states[task.ID] = append(n.states[task.ID], task.State)
}

func (n *recordingNotifier) TaskOutput(sessionID string, task Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("output:%s", task.ID))
}

func (n *recordingNotifier) NeedsUserInput(sessionID string, task Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("input:%s", task.ID))
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func (n *recordingNotifier) history(taskID string) []TaskState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]TaskState(nil), n.states[taskID]...)
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

func testRoster(ids ...string) []RosterMember {
	roster := make([]RosterMember, len(ids))
	for i, id := range ids {
		roster[i] = RosterMember{ID: id, Role: id, ExecutorType: "explore"}
	}
	return roster
}

func newTask(id string, mode ResourceMode, deps ...string) Task {
	return Task{
		ID:           id,
		Title:        "Task " + id,
		Description:  "Do " + id,
		Deps:         deps,
		Assignee:     "developer",
		State:        TaskDraft,
		ResourceMode: mode,
	}
}

func testLoopConfig(store *memStore) LoopConfig {
	return LoopConfig{
		PollInterval:       10 * time.Millisecond,
		PausedPollInterval: 10 * time.Millisecond,
		AbortGrace:         2 * time.Second,
		Wake:               store.wake,
	}
}

// runLoop runs l in the background and returns a channel with its result.
func runLoop(ctx context.Context, l *Loop) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	return errc
}

func waitLoop(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("scheduler loop did not finish")
		return nil
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func indexOfEvent(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}
