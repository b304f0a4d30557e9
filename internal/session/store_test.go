package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/cowork/internal/backend"
	"github.com/aristath/cowork/internal/persistence"
	"github.com/aristath/cowork/internal/scheduler"
)

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	ctx := context.Background()

	id, err := env.store.CreateSession(ctx, CreateRequest{Goal: "  Ship the release  ", WorkspaceRoot: "/tmp/ws"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if !strings.HasPrefix(id, "cowork-") {
		t.Errorf("unexpected session id %q", id)
	}

	sess, err := env.store.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if sess.Goal != "Ship the release" || sess.State != scheduler.SessionDraft || sess.WorkspaceRoot != "/tmp/ws" {
		t.Errorf("unexpected session %+v", sess)
	}
	if len(sess.Roster) != 4 || sess.Roster[0].ID != "planner" || sess.Roster[3].ID != "researcher" {
		t.Errorf("expected default roster, got %+v", sess.Roster)
	}
	if got := env.notifier.snapshot(); len(got) != 1 || got[0] != "created" {
		t.Errorf("expected session-created, got %v", got)
	}
}

func TestCreateSession_Validation(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"empty goal", CreateRequest{Goal: "   "}},
		{"duplicate member", CreateRequest{Goal: "X", Roster: testRoster("dev", "dev")}},
		{"member without id", CreateRequest{Goal: "X", Roster: []scheduler.RosterMember{{Role: "Dev", ExecutorType: "explore"}}}},
		{"member without executor", CreateRequest{Goal: "X", Roster: []scheduler.RosterMember{{ID: "dev"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.store.CreateSession(context.Background(), tt.req); !errors.Is(err, scheduler.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
	if n := len(env.store.List()); n != 0 {
		t.Errorf("expected no sessions, got %d", n)
	}
}

func TestSnapshot_NotFound(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	if _, err := env.store.Snapshot("cowork-missing"); !errors.Is(err, scheduler.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := env.store.Start(context.Background(), "cowork-missing"); !errors.Is(err, scheduler.ErrNotFound) {
		t.Errorf("expected ErrNotFound from Start, got %v", err)
	}
}

func TestGeneratePlan(t *testing.T) {
	var gotMember scheduler.RosterMember
	plans := planFunc(func(ctx context.Context, sessionID string, member scheduler.RosterMember, goal string, roster []scheduler.RosterMember) ([]scheduler.Task, error) {
		gotMember = member
		return []scheduler.Task{newTask("a", scheduler.ReadOnly), newTask("b", scheduler.WorkspaceWrite, "a")}, nil
	})
	env := newTestEnv(t, echoExecutor(), plans, nil)
	ctx := context.Background()

	roster := append(testRoster("developer"), scheduler.RosterMember{ID: "lead", Role: "PLANNER", ExecutorType: "explore"})
	id, err := env.store.CreateSession(ctx, CreateRequest{Goal: "X", Roster: roster})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	tasks, err := env.store.GeneratePlan(ctx, id)
	if err != nil {
		t.Fatalf("GeneratePlan failed: %v", err)
	}
	if gotMember.ID != "lead" {
		t.Errorf("expected planner role to be matched case-insensitively, got %q", gotMember.ID)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}

	sess, _ := env.store.Snapshot(id)
	if sess.State != scheduler.SessionReady || strings.Join(sess.TaskOrder, ",") != "a,b" {
		t.Errorf("expected Ready with order a,b, got %s %v", sess.State, sess.TaskOrder)
	}

	want := []string{"created", "state:planning", "state:ready", "plan-generated:2"}
	if got := env.notifier.snapshot(); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("expected events %v, got %v", want, got)
	}
}

func TestGeneratePlan_FailureRestoresPreviousState(t *testing.T) {
	planErr := fmt.Errorf("%w: planner returned empty tasks list", scheduler.ErrAIClient)
	plans := planFunc(func(ctx context.Context, sessionID string, member scheduler.RosterMember, goal string, roster []scheduler.RosterMember) ([]scheduler.Task, error) {
		return nil, planErr
	})
	env := newTestEnv(t, echoExecutor(), plans, nil)

	id, _ := env.store.CreateSession(context.Background(), CreateRequest{Goal: "X"})
	_, err := env.store.GeneratePlan(context.Background(), id)
	if err != planErr {
		t.Fatalf("expected the planner error unchanged, got %v", err)
	}
	if s := env.state(t, id); s != scheduler.SessionDraft {
		t.Errorf("expected session back in draft, got %s", s)
	}
	if env.notifier.count("state:draft") != 1 {
		t.Errorf("expected session-state draft to be emitted, got %v", env.notifier.snapshot())
	}
}

func TestGeneratePlan_RejectsCyclicPlan(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), fixedPlan(
		newTask("a", scheduler.ReadOnly, "b"),
		newTask("b", scheduler.ReadOnly, "a"),
	), nil)

	id, _ := env.store.CreateSession(context.Background(), CreateRequest{Goal: "X"})
	if _, err := env.store.GeneratePlan(context.Background(), id); !errors.Is(err, scheduler.ErrAIClient) {
		t.Fatalf("expected ErrAIClient, got %v", err)
	}
	sess, _ := env.store.Snapshot(id)
	if sess.State != scheduler.SessionDraft || len(sess.Tasks) != 0 {
		t.Errorf("expected untouched draft session, got %s with %d tasks", sess.State, len(sess.Tasks))
	}
}

func TestGeneratePlan_RejectedWhileRunning(t *testing.T) {
	release := make(chan struct{})
	exec := backend.ExecutorFunc(func(ctx context.Context, req backend.Request) (backend.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return backend.Result{Text: "ok"}, nil
	})
	env := newTestEnv(t, exec, fixedPlan(newTask("z", scheduler.ReadOnly)), nil)
	defer close(release)

	id := env.planned(t, testRoster("developer"), newTask("a", scheduler.ReadOnly))
	if err := env.store.Start(context.Background(), id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := env.store.GeneratePlan(context.Background(), id); !errors.Is(err, scheduler.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if err := env.store.UpdatePlan(context.Background(), id, []scheduler.Task{newTask("z", scheduler.ReadOnly)}, nil); !errors.Is(err, scheduler.ErrValidation) {
		t.Errorf("expected ErrValidation from UpdatePlan, got %v", err)
	}
}

func TestUpdatePlan_UnknownDependencyLeavesPlanUnchanged(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	id := env.planned(t, testRoster("developer"), newTask("a", scheduler.ReadOnly))
	before, _ := env.store.Snapshot(id)

	err := env.store.UpdatePlan(context.Background(), id, []scheduler.Task{
		newTask("a", scheduler.ReadOnly),
		newTask("b", scheduler.ReadOnly, "ghost"),
	}, nil)
	if !errors.Is(err, scheduler.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), `"b"`) || !strings.Contains(err.Error(), `"ghost"`) {
		t.Errorf("expected error to name task and dependency, got %v", err)
	}

	after, _ := env.store.Snapshot(id)
	if len(after.Tasks) != 1 || after.UpdatedAt != before.UpdatedAt {
		t.Errorf("expected previous plan to be kept, got %+v", after.Tasks)
	}
}

func TestUpdatePlan_Validation(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	id, _ := env.store.CreateSession(context.Background(), CreateRequest{Goal: "X", Roster: testRoster("developer")})

	withState := func(id string, state scheduler.TaskState) scheduler.Task {
		task := newTask(id, scheduler.ReadOnly)
		task.State = state
		return task
	}
	answered := withState("a", scheduler.TaskWaitingUserInput)
	answered.Questions = []string{"Which format?"}
	answered.UserAnswers = []string{"markdown"}
	outsider := newTask("a", scheduler.ReadOnly)
	outsider.Assignee = "nobody"

	tests := []struct {
		name  string
		tasks []scheduler.Task
		order []string
	}{
		{"duplicate ids", []scheduler.Task{newTask("a", scheduler.ReadOnly), newTask("a", scheduler.ReadOnly)}, nil},
		{"cycle", []scheduler.Task{newTask("a", scheduler.ReadOnly, "b"), newTask("b", scheduler.ReadOnly, "a")}, nil},
		{"order misses a task", []scheduler.Task{newTask("a", scheduler.ReadOnly), newTask("b", scheduler.ReadOnly)}, []string{"a"}},
		{"order names unknown task", []scheduler.Task{newTask("a", scheduler.ReadOnly)}, []string{"x"}},
		{"running state", []scheduler.Task{withState("a", scheduler.TaskRunning)}, nil},
		{"unknown state", []scheduler.Task{withState("a", "paused")}, nil},
		{"waiting without questions", []scheduler.Task{withState("a", scheduler.TaskWaitingUserInput)}, nil},
		{"waiting with answered questions", []scheduler.Task{answered}, nil},
		{"assignee outside roster", []scheduler.Task{newTask("b", scheduler.ReadOnly), outsider}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := env.store.UpdatePlan(context.Background(), id, tt.tasks, tt.order); !errors.Is(err, scheduler.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
	if s := env.state(t, id); s != scheduler.SessionDraft {
		t.Errorf("expected session to stay draft, got %s", s)
	}
	if sess, _ := env.store.Snapshot(id); len(sess.Tasks) != 0 {
		t.Errorf("expected rejected plans to install nothing, got %+v", sess.Tasks)
	}
}

func TestUpdatePlan_KeepsWaitingTaskWithOpenQuestions(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	ask := newTask("ask", scheduler.ReadOnly)
	ask.State = scheduler.TaskWaitingUserInput
	ask.Questions = []string{"Which format?"}
	id := env.planned(t, testRoster("developer"), ask)

	if got := env.task(t, id, "ask"); got.State != scheduler.TaskWaitingUserInput {
		t.Errorf("expected waiting task to be kept, got %s", got.State)
	}
}

func TestUpdatePlan_NamesUnknownAssignee(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	id := env.planned(t, testRoster("developer"), newTask("a", scheduler.ReadOnly))
	before, _ := env.store.Snapshot(id)

	orphan := newTask("b", scheduler.ReadOnly)
	orphan.Assignee = "nobody"
	err := env.store.UpdatePlan(context.Background(), id, []scheduler.Task{orphan}, nil)
	if !errors.Is(err, scheduler.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), `"nobody"`) || !strings.Contains(err.Error(), `"b"`) {
		t.Errorf("expected error to name task and assignee, got %v", err)
	}

	after, _ := env.store.Snapshot(id)
	if len(after.Tasks) != 1 || after.Tasks[0].ID != "a" || after.UpdatedAt != before.UpdatedAt {
		t.Errorf("expected previous plan to be kept, got %+v", after.Tasks)
	}
}

func TestUpdatePlan_AppliesOrderAndDefaults(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	id, _ := env.store.CreateSession(context.Background(), CreateRequest{Goal: "X", Roster: testRoster("developer")})

	a := newTask("a", "")
	a.State = ""
	b := newTask("b", scheduler.ReadOnly, "a")
	if err := env.store.UpdatePlan(context.Background(), id, []scheduler.Task{a, b}, []string{"b", "a"}); err != nil {
		t.Fatalf("UpdatePlan failed: %v", err)
	}

	sess, _ := env.store.Snapshot(id)
	if sess.State != scheduler.SessionReady {
		t.Errorf("expected Ready, got %s", sess.State)
	}
	if sess.Tasks[0].ID != "b" || sess.Tasks[1].ID != "a" {
		t.Errorf("expected tasks in task order, got %s,%s", sess.Tasks[0].ID, sess.Tasks[1].ID)
	}
	got, _ := sess.TaskByID("a")
	if got.ResourceMode != scheduler.WorkspaceWrite || got.State != scheduler.TaskDraft {
		t.Errorf("expected defaults to be applied, got mode=%s state=%s", got.ResourceMode, got.State)
	}
	if env.notifier.count("plan-updated:2") != 1 {
		t.Errorf("expected plan-updated, got %v", env.notifier.snapshot())
	}
}

func TestStart_RequiresPlan(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	id, _ := env.store.CreateSession(context.Background(), CreateRequest{Goal: "X"})

	if err := env.store.Start(context.Background(), id); !errors.Is(err, scheduler.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestStart_RunsToCompletion(t *testing.T) {
	var mu sync.Mutex
	var workDirs []string
	exec := backend.ExecutorFunc(func(ctx context.Context, req backend.Request) (backend.Result, error) {
		mu.Lock()
		workDirs = append(workDirs, req.WorkDir)
		mu.Unlock()
		return backend.Result{Text: "done: " + req.ParentContext.TaskID}, nil
	})
	env := newTestEnv(t, exec, nil, nil)
	ctx := context.Background()

	id, _ := env.store.CreateSession(ctx, CreateRequest{Goal: "X", Roster: testRoster("developer", "reviewer"), WorkspaceRoot: "/srv/ws"})
	if err := env.store.UpdatePlan(ctx, id, []scheduler.Task{
		newTask("t1", scheduler.WorkspaceWrite),
		newTask("t2", scheduler.WorkspaceWrite, "t1"),
		newTask("t3", scheduler.ReadOnly),
	}, nil); err != nil {
		t.Fatalf("UpdatePlan failed: %v", err)
	}
	if err := env.store.Start(ctx, id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "session to complete", func() bool { return env.state(t, id) == scheduler.SessionCompleted })

	for _, taskID := range []string{"t1", "t2", "t3"} {
		task := env.task(t, id, taskID)
		if task.State != scheduler.TaskCompleted || task.OutputText != "done: "+taskID {
			t.Errorf("%s: expected completed with output, got %s %q", taskID, task.State, task.OutputText)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	for _, dir := range workDirs {
		if dir != "/srv/ws" {
			t.Errorf("expected workspace root as work dir, got %q", dir)
		}
	}

	if err := env.store.Start(ctx, id); !errors.Is(err, scheduler.ErrValidation) {
		t.Errorf("expected completed session to refuse Start, got %v", err)
	}
}

func TestStart_ConcurrentCallsRunOneLoop(t *testing.T) {
	var mu sync.Mutex
	calls := make(map[string]int)
	exec := backend.ExecutorFunc(func(ctx context.Context, req backend.Request) (backend.Result, error) {
		mu.Lock()
		calls[req.ParentContext.TaskID]++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return backend.Result{Text: "ok"}, nil
	})
	env := newTestEnv(t, exec, nil, nil)
	id := env.planned(t, testRoster("developer", "reviewer", "researcher"),
		newTask("a", scheduler.ReadOnly),
		newTask("b", scheduler.ReadOnly),
		newTask("c", scheduler.WorkspaceWrite, "a"),
	)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.store.Start(context.Background(), id); err != nil {
				t.Errorf("Start failed: %v", err)
			}
		}()
	}
	wg.Wait()

	waitFor(t, "session to complete", func() bool { return env.state(t, id) == scheduler.SessionCompleted })

	mu.Lock()
	defer mu.Unlock()
	for _, taskID := range []string{"a", "b", "c"} {
		if calls[taskID] != 1 {
			t.Errorf("%s dispatched %d times, want 1", taskID, calls[taskID])
		}
	}
	if n := env.notifier.count("state:running"); n != 1 {
		t.Errorf("expected one transition to running, got %d", n)
	}
}

func TestCancel_TwoInFlightTasks(t *testing.T) {
	var started atomic.Int32
	exec := backend.ExecutorFunc(func(ctx context.Context, req backend.Request) (backend.Result, error) {
		started.Add(1)
		<-ctx.Done()
		return backend.Result{}, fmt.Errorf("%w: %v", backend.ErrCancelled, ctx.Err())
	})
	env := newTestEnv(t, exec, nil, nil)
	id := env.planned(t, testRoster("developer", "reviewer"),
		newTask("t1", scheduler.ReadOnly),
		newTask("t2", scheduler.ReadOnly),
	)

	if err := env.store.Start(context.Background(), id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "both tasks to start", func() bool { return started.Load() == 2 })

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.store.Cancel(id); err != nil {
				t.Errorf("Cancel failed: %v", err)
			}
		}()
	}
	wg.Wait()

	waitFor(t, "session to be cancelled", func() bool { return env.state(t, id) == scheduler.SessionCancelled })
	if err := env.store.Cancel(id); err != nil {
		t.Errorf("Cancel on a cancelled session should be a no-op, got %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	for _, taskID := range []string{"t1", "t2"} {
		if s := env.task(t, id, taskID).State; s != scheduler.TaskCancelled {
			t.Errorf("%s: expected cancelled, got %s", taskID, s)
		}
		if env.notifier.count("task:"+taskID+":completed") != 0 {
			t.Errorf("%s reported completed after cancellation", taskID)
		}
	}
	if n := env.notifier.count("state:cancelled"); n != 1 {
		t.Errorf("expected exactly one transition to cancelled, got %d", n)
	}
}

func TestCancel_WithoutLoop(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	id := env.planned(t, testRoster("developer"), newTask("a", scheduler.ReadOnly))

	if err := env.store.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := env.store.Cancel(id); err != nil {
		t.Fatalf("second Cancel failed: %v", err)
	}
	if s := env.state(t, id); s != scheduler.SessionCancelled {
		t.Errorf("expected cancelled, got %s", s)
	}
	if n := env.notifier.count("state:cancelled"); n != 1 {
		t.Errorf("expected one cancelled event, got %d", n)
	}
	if err := env.store.Start(context.Background(), id); !errors.Is(err, scheduler.ErrValidation) {
		t.Errorf("expected cancelled session to refuse Start, got %v", err)
	}
}

func TestCancel_DuringPlanning(t *testing.T) {
	entered := make(chan struct{})
	plans := planFunc(func(ctx context.Context, sessionID string, member scheduler.RosterMember, goal string, roster []scheduler.RosterMember) ([]scheduler.Task, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	env := newTestEnv(t, echoExecutor(), plans, nil)
	id, _ := env.store.CreateSession(context.Background(), CreateRequest{Goal: "X"})

	errc := make(chan error, 1)
	go func() {
		_, err := env.store.GeneratePlan(context.Background(), id)
		errc <- err
	}()
	<-entered
	if err := env.store.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, scheduler.ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("GeneratePlan did not return")
	}
	if s := env.state(t, id); s != scheduler.SessionCancelled {
		t.Errorf("expected cancelled, got %s", s)
	}
}

func TestPause_AndResumeWithStart(t *testing.T) {
	release := make(chan struct{})
	exec := backend.ExecutorFunc(func(ctx context.Context, req backend.Request) (backend.Result, error) {
		if req.ParentContext.TaskID == "t1" {
			<-release
		}
		return backend.Result{Text: "ok"}, nil
	})
	env := newTestEnv(t, exec, nil, nil)
	id := env.planned(t, testRoster("developer"),
		newTask("t1", scheduler.WorkspaceWrite),
		newTask("t2", scheduler.WorkspaceWrite, "t1"),
	)

	if err := env.store.Pause(id); !errors.Is(err, scheduler.ErrValidation) {
		t.Errorf("expected pausing a ready session to fail, got %v", err)
	}
	if err := env.store.Start(context.Background(), id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "t1 to run", func() bool { return env.task(t, id, "t1").State == scheduler.TaskRunning })

	if err := env.store.Pause(id); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := env.store.Pause(id); err != nil {
		t.Fatalf("second Pause failed: %v", err)
	}
	close(release)

	waitFor(t, "t1 to complete", func() bool { return env.task(t, id, "t1").State == scheduler.TaskCompleted })
	time.Sleep(50 * time.Millisecond)
	if s := env.task(t, id, "t2").State; s != scheduler.TaskDraft {
		t.Fatalf("paused session dispatched t2 (state %s)", s)
	}

	if err := env.store.Start(context.Background(), id); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	waitFor(t, "session to complete", func() bool { return env.state(t, id) == scheduler.SessionCompleted })
	if n := env.notifier.count("state:running"); n != 2 {
		t.Errorf("expected two transitions to running, got %d", n)
	}
}

func TestSubmitUserInput_ReleasesGate(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	ask := newTask("ask", scheduler.ReadOnly)
	ask.Questions = []string{"Which region?"}
	id := env.planned(t, testRoster("developer"), ask)

	if err := env.store.Start(context.Background(), id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "task to wait for input", func() bool {
		return env.task(t, id, "ask").State == scheduler.TaskWaitingUserInput
	})
	time.Sleep(30 * time.Millisecond)
	if s := env.task(t, id, "ask").State; s != scheduler.TaskWaitingUserInput {
		t.Fatalf("task left the gate without answers: %s", s)
	}

	if err := env.store.SubmitUserInput(id, "missing", []string{"eu"}); !errors.Is(err, scheduler.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := env.store.SubmitUserInput(id, "ask", []string{" "}); !errors.Is(err, scheduler.ErrValidation) {
		t.Errorf("expected ErrValidation for blank answers, got %v", err)
	}
	if err := env.store.SubmitUserInput(id, "ask", []string{"eu-west"}); err != nil {
		t.Fatalf("SubmitUserInput failed: %v", err)
	}

	waitFor(t, "session to complete", func() bool { return env.state(t, id) == scheduler.SessionCompleted })
	task := env.task(t, id, "ask")
	if len(task.UserAnswers) != 1 || task.UserAnswers[0] != "eu-west" {
		t.Errorf("expected answers to be stored, got %v", task.UserAnswers)
	}
	if env.notifier.count("task:ask:ready") != 1 || env.notifier.count("answers:ask") != 1 {
		t.Errorf("expected ready transition and answers notification, got %v", env.notifier.snapshot())
	}
	if env.notifier.count("plan-updated:1") != 1 {
		t.Errorf("expected answers not to count as a plan replacement, got %v", env.notifier.snapshot())
	}
}

func TestUpdateTaskAndSessionState(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	id := env.planned(t, testRoster("developer"), newTask("a", scheduler.ReadOnly))

	task := env.task(t, id, "a")
	task.State = scheduler.TaskCompleted
	if err := env.store.UpdateTask(id, task); !errors.Is(err, scheduler.ErrInvalidTransition) {
		t.Errorf("expected draft -> completed to be rejected, got %v", err)
	}
	task.State = scheduler.TaskReady
	task.Title = "Renamed"
	if err := env.store.UpdateTask(id, task); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if got := env.task(t, id, "a"); got.Title != "Renamed" || got.State != scheduler.TaskReady {
		t.Errorf("unexpected task %+v", got)
	}
	if env.notifier.count("task:a:ready") != 1 {
		t.Errorf("expected task-state-changed, got %v", env.notifier.snapshot())
	}

	if err := env.store.UpdateSessionState(id, scheduler.SessionError); err != nil {
		t.Fatalf("UpdateSessionState failed: %v", err)
	}
	if err := env.store.UpdateSessionState(id, scheduler.SessionRunning); !errors.Is(err, scheduler.ErrInvalidTransition) {
		t.Errorf("expected terminal session to keep its state, got %v", err)
	}
}

func TestLoopFailureMovesSessionToError(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	id := env.planned(t, testRoster("developer"), newTask("a", scheduler.ReadOnly))
	// Plans are checked against the roster, so break the task after install.
	if _, err := env.store.MutateTask(id, "a", func(task *scheduler.Task) error {
		task.Assignee = "nobody"
		return nil
	}); err != nil {
		t.Fatalf("MutateTask failed: %v", err)
	}

	if err := env.store.Start(context.Background(), id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "session to error", func() bool { return env.state(t, id) == scheduler.SessionError })
}

func TestMutateTask_StartsOnlyInRunningSession(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil, nil)
	id := env.planned(t, testRoster("developer"), newTask("a", scheduler.ReadOnly))

	_, err := env.store.MutateTask(id, "a", func(task *scheduler.Task) error {
		task.State = scheduler.TaskRunning
		return nil
	})
	if !errors.Is(err, scheduler.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if got := env.task(t, id, "a"); got.State != scheduler.TaskDraft {
		t.Errorf("expected task to stay draft, got %s", got.State)
	}
}

func TestDelete(t *testing.T) {
	release := make(chan struct{})
	exec := backend.ExecutorFunc(func(ctx context.Context, req backend.Request) (backend.Result, error) {
		<-release
		return backend.Result{Text: "ok"}, nil
	})
	env := newTestEnv(t, exec, nil, nil)
	id := env.planned(t, testRoster("developer"), newTask("a", scheduler.ReadOnly))

	if err := env.store.Start(context.Background(), id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := env.store.Delete(context.Background(), id); !errors.Is(err, scheduler.ErrValidation) {
		t.Errorf("expected running session to refuse Delete, got %v", err)
	}
	close(release)
	waitFor(t, "session to complete", func() bool { return env.state(t, id) == scheduler.SessionCompleted })

	// The loop releases its guard just after the final state is written.
	waitFor(t, "delete to succeed", func() bool { return env.store.Delete(context.Background(), id) == nil })
	if _, err := env.store.Snapshot(id); !errors.Is(err, scheduler.ErrNotFound) {
		t.Errorf("expected deleted session to be gone, got %v", err)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	db, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	started := int64(5)
	running := newTask("run", scheduler.ReadOnly)
	running.State = scheduler.TaskRunning
	running.StartedAt = &started
	done := newTask("done", scheduler.ReadOnly)
	done.State = scheduler.TaskCompleted
	done.OutputText = "kept"

	if err := db.SaveSession(ctx, scheduler.Session{
		ID: "cowork-running", Goal: "X", State: scheduler.SessionRunning, Roster: testRoster("developer"),
		TaskOrder: []string{"done", "run"}, Tasks: []scheduler.Task{done, running}, CreatedAt: 1, UpdatedAt: 1,
	}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := db.SaveSession(ctx, scheduler.Session{
		ID: "cowork-planning", Goal: "Y", State: scheduler.SessionPlanning, Roster: testRoster("developer"), CreatedAt: 2, UpdatedAt: 2,
	}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	env := newTestEnv(t, echoExecutor(), nil, db)
	n, err := env.store.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 restored sessions, got %d", n)
	}

	if s := env.state(t, "cowork-running"); s != scheduler.SessionPaused {
		t.Errorf("expected running session to come back paused, got %s", s)
	}
	if s := env.state(t, "cowork-planning"); s != scheduler.SessionDraft {
		t.Errorf("expected planning session to come back draft, got %s", s)
	}
	interrupted := env.task(t, "cowork-running", "run")
	if interrupted.State != scheduler.TaskFailed || interrupted.ErrorText() != "interrupted by restart" {
		t.Errorf("expected interrupted task to fail, got %s %q", interrupted.State, interrupted.ErrorText())
	}
	if kept := env.task(t, "cowork-running", "done"); kept.OutputText != "kept" {
		t.Errorf("expected completed output to survive, got %q", kept.OutputText)
	}

	// A second restore does not duplicate sessions.
	if n, _ := env.store.Restore(ctx); n != 0 {
		t.Errorf("expected nothing to restore twice, got %d", n)
	}

	// The restored session resumes and finishes in Error because a task failed.
	if err := env.store.Start(ctx, "cowork-running"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "restored session to finish", func() bool { return env.state(t, "cowork-running") == scheduler.SessionError })
}

func TestPersistsEveryChange(t *testing.T) {
	ctx := context.Background()
	db, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := newTestEnv(t, echoExecutor(), nil, db)
	id := env.planned(t, testRoster("developer"), newTask("a", scheduler.ReadOnly))
	if err := env.store.Start(ctx, id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "session to complete", func() bool { return env.state(t, id) == scheduler.SessionCompleted })

	waitFor(t, "completed snapshot to be stored", func() bool {
		sessions, err := db.LoadSessions(ctx)
		if err != nil || len(sessions) != 1 {
			return false
		}
		return sessions[0].State == scheduler.SessionCompleted && sessions[0].Tasks[0].OutputText == "done: a"
	})
}
