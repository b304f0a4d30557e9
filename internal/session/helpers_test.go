package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aristath/cowork/internal/backend"
	"github.com/aristath/cowork/internal/scheduler"
)

// recordingNotifier records every notification in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) add(format string, args ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf(format, args...))
}

func (n *recordingNotifier) TaskStateChanged(sessionID string, task scheduler.Task) {
	n.add("task:%s:%s", task.ID, task.State)
}

func (n *recordingNotifier) TaskOutput(sessionID string, task scheduler.Task) {
	n.add("output:%s", task.ID)
}

func (n *recordingNotifier) NeedsUserInput(sessionID string, task scheduler.Task) {
	n.add("input:%s", task.ID)
}

func (n *recordingNotifier) SessionCreated(sess scheduler.Session) {
	n.add("created")
}

func (n *recordingNotifier) SessionState(sessionID string, state scheduler.SessionState) {
	n.add("state:%s", state)
}

func (n *recordingNotifier) PlanGenerated(sess scheduler.Session) {
	n.add("plan-generated:%d", len(sess.Tasks))
}

func (n *recordingNotifier) PlanUpdated(sess scheduler.Session) {
	n.add("plan-updated:%d", len(sess.Tasks))
}

func (n *recordingNotifier) AnswersSubmitted(sess scheduler.Session, taskID string) {
	n.add("answers:%s", taskID)
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func (n *recordingNotifier) count(event string) int {
	c := 0
	for _, e := range n.snapshot() {
		if e == event {
			c++
		}
	}
	return c
}

// planFunc adapts a function to PlanGenerator.
type planFunc func(ctx context.Context, sessionID string, member scheduler.RosterMember, goal string, roster []scheduler.RosterMember) ([]scheduler.Task, error)

func (f planFunc) Generate(ctx context.Context, sessionID string, member scheduler.RosterMember, goal string, roster []scheduler.RosterMember) ([]scheduler.Task, error) {
	return f(ctx, sessionID, member, goal, roster)
}

func fixedPlan(tasks ...scheduler.Task) planFunc {
	return func(ctx context.Context, sessionID string, member scheduler.RosterMember, goal string, roster []scheduler.RosterMember) ([]scheduler.Task, error) {
		return tasks, nil
	}
}

func echoExecutor() backend.Executor {
	return backend.ExecutorFunc(func(ctx context.Context, req backend.Request) (backend.Result, error) {
		return backend.Result{Text: "done: " + req.ParentContext.TaskID}, nil
	})
}

func testRoster(ids ...string) []scheduler.RosterMember {
	roster := make([]scheduler.RosterMember, len(ids))
	for i, id := range ids {
		roster[i] = scheduler.RosterMember{ID: id, Role: id, ExecutorType: "explore"}
	}
	return roster
}

func newTask(id string, mode scheduler.ResourceMode, deps ...string) scheduler.Task {
	if deps == nil {
		deps = []string{}
	}
	return scheduler.Task{
		ID:           id,
		Title:        "Task " + id,
		Description:  "Do " + id,
		Deps:         deps,
		Assignee:     "developer",
		State:        scheduler.TaskDraft,
		ResourceMode: mode,
	}
}

type testEnv struct {
	store    *Store
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, exec backend.Executor, plans PlanGenerator, persist Persister) *testEnv {
	t.Helper()
	notifier := &recordingNotifier{}
	store := New(exec, plans, notifier, Config{
		Loop: scheduler.LoopConfig{
			PollInterval:       10 * time.Millisecond,
			PausedPollInterval: 10 * time.Millisecond,
			AbortGrace:         2 * time.Second,
		},
		Persister: persist,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(ctx); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return &testEnv{store: store, notifier: notifier}
}

// planned creates a session with roster and installs tasks through UpdatePlan.
func (env *testEnv) planned(t *testing.T, roster []scheduler.RosterMember, tasks ...scheduler.Task) string {
	t.Helper()
	id, err := env.store.CreateSession(context.Background(), CreateRequest{Goal: "X", Roster: roster})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := env.store.UpdatePlan(context.Background(), id, tasks, nil); err != nil {
		t.Fatalf("UpdatePlan failed: %v", err)
	}
	return id
}

func (env *testEnv) state(t *testing.T, id string) scheduler.SessionState {
	t.Helper()
	sess, err := env.store.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return sess.State
}

func (env *testEnv) task(t *testing.T, id, taskID string) scheduler.Task {
	t.Helper()
	sess, err := env.store.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	task, ok := sess.TaskByID(taskID)
	if !ok {
		t.Fatalf("task %s not found", taskID)
	}
	return task
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
