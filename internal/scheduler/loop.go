package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/cowork/internal/backend"
)

// Store is the session state the loop reads and writes. Every write is an
// atomic read-modify-write of one task or of the session state.
type Store interface {
	Snapshot(sessionID string) (Session, error)
	// MutateTask applies fn to a copy of the task and stores the result.
	// An error from fn aborts the write and is returned unchanged.
	MutateTask(sessionID, taskID string, fn func(*Task) error) (Task, error)
	// UpdateSessionState stores state and publishes session-state.
	UpdateSessionState(sessionID string, state SessionState) error
}

// Notifier receives task notifications. Each call follows the write it
// describes.
type Notifier interface {
	TaskStateChanged(sessionID string, task Task)
	TaskOutput(sessionID string, task Task)
	NeedsUserInput(sessionID string, task Task)
}

// errSkip aborts a MutateTask callback whose precondition no longer holds.
var errSkip = errors.New("task changed underneath the scheduler")

// LoopConfig tunes a scheduler loop.
type LoopConfig struct {
	PollInterval       time.Duration // idle wait when nothing was dispatched
	PausedPollInterval time.Duration // idle wait while the session is not running
	AbortGrace         time.Duration // how long cancelled units get to record Cancelled
	MaxDepOutputChars  int

	// Wake ends idle waits early. The session store signals it on every mutation.
	Wake <-chan struct{}

	Logger *slog.Logger
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		PollInterval:       250 * time.Millisecond,
		PausedPollInterval: 200 * time.Millisecond,
		AbortGrace:         5 * time.Second,
		MaxDepOutputChars:  DefaultMaxDepOutputChars,
	}
}

type unitResult struct {
	taskID string
	err    error
}

// Loop drives one session from Running to a terminal state.
// A Loop runs once; create a new one for every start.
type Loop struct {
	sessionID string
	store     Store
	exec      backend.Executor
	notify    Notifier
	cfg       LoopConfig
	logger    *slog.Logger
	now       func() time.Time

	units    errgroup.Group
	done     chan unitResult
	stopped  chan struct{}
	inflight int
	drained  bool
}

// NewLoop creates a scheduler loop for sessionID.
func NewLoop(sessionID string, store Store, exec backend.Executor, notify Notifier, cfg LoopConfig) *Loop {
	def := DefaultLoopConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PausedPollInterval <= 0 {
		cfg.PausedPollInterval = def.PausedPollInterval
	}
	if cfg.AbortGrace <= 0 {
		cfg.AbortGrace = def.AbortGrace
	}
	if cfg.MaxDepOutputChars <= 0 {
		cfg.MaxDepOutputChars = def.MaxDepOutputChars
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		sessionID: sessionID,
		store:     store,
		exec:      exec,
		notify:    notify,
		cfg:       cfg,
		logger:    logger.With("session_id", sessionID),
		now:       time.Now,
		done:      make(chan unitResult, 16),
		stopped:   make(chan struct{}),
	}
}

// Run schedules tasks until the session reaches a terminal state or ctx is
// cancelled. Cancellation aborts in-flight units and moves the session to
// Cancelled. A non-nil error means the loop gave up; the caller is expected to
// move the session to Error.
func (l *Loop) Run(ctx context.Context) error {
	unitCtx, abortUnits := context.WithCancel(ctx)
	defer func() {
		abortUnits()
		l.drain()
		close(l.stopped)
	}()

	for {
		l.reap()

		if ctx.Err() != nil {
			return l.cancel(abortUnits)
		}

		sess, err := l.store.Snapshot(l.sessionID)
		if err != nil {
			return fmt.Errorf("read session: %w", err)
		}
		if sess.State.Terminal() {
			return nil
		}
		if sess.State != SessionRunning {
			// Paused, or re-planned while paused and not yet restarted.
			l.idle(ctx, l.cfg.PausedPollInterval)
			continue
		}

		if _, err := ValidateGraph(sess.Tasks); err != nil {
			return err
		}

		if err := l.gateUserInput(sess); err != nil {
			return err
		}

		if sess, err = l.store.Snapshot(l.sessionID); err != nil {
			return fmt.Errorf("read session: %w", err)
		}
		if err := l.propagateBlocked(sess); err != nil {
			return err
		}

		if sess, err = l.store.Snapshot(l.sessionID); err != nil {
			return fmt.Errorf("read session: %w", err)
		}
		if final, ok := completionState(sess.Tasks); ok {
			l.logger.Info("session finished", "state", final, "tasks", len(sess.Tasks))
			return l.store.UpdateSessionState(l.sessionID, final)
		}
		if sess.State != SessionRunning {
			// Paused while this iteration was gating or propagating.
			continue
		}

		if ctx.Err() != nil {
			continue
		}
		dispatched, err := l.dispatch(unitCtx, sess)
		if err != nil {
			return err
		}
		if dispatched == 0 {
			l.idle(ctx, l.cfg.PollInterval)
		}
	}
}

// gateUserInput parks tasks with unanswered questions in WaitingUserInput.
func (l *Loop) gateUserInput(sess Session) error {
	for _, t := range sess.Tasks {
		if !t.NeedsUserInput() || (t.State != TaskDraft && t.State != TaskReady) {
			continue
		}
		now := l.now().UnixMilli()
		updated, err := l.store.MutateTask(l.sessionID, t.ID, func(cur *Task) error {
			if !cur.NeedsUserInput() || (cur.State != TaskDraft && cur.State != TaskReady) {
				return errSkip
			}
			cur.State = TaskWaitingUserInput
			cur.UpdatedAt = now
			return nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return fmt.Errorf("park task %s for user input: %w", t.ID, err)
		}
		l.logger.Info("task waiting for user input", "task_id", t.ID, "questions", len(updated.Questions))
		l.notify.NeedsUserInput(l.sessionID, updated)
		l.notify.TaskStateChanged(l.sessionID, updated)
	}
	return nil
}

// propagateBlocked blocks every pending task with a dependency that can no
// longer succeed.
func (l *Loop) propagateBlocked(sess Session) error {
	byID := sess.TaskIndex()
	for _, t := range sess.Tasks {
		if !pending(t.State) {
			continue
		}
		dep, failed := failedDep(t, byID)
		if !failed {
			continue
		}
		now := l.now().UnixMilli()
		updated, err := l.store.MutateTask(l.sessionID, t.ID, func(cur *Task) error {
			if !pending(cur.State) {
				return errSkip
			}
			cur.State = TaskBlocked
			cur.SetError(fmt.Sprintf("Blocked: dependency '%s' failed or was cancelled", dep))
			cur.UpdatedAt = now
			cur.FinishedAt = &now
			return nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return fmt.Errorf("block task %s: %w", t.ID, err)
		}
		byID[updated.ID] = updated
		l.logger.Info("task blocked", "task_id", t.ID, "dependency", dep)
		l.notify.TaskStateChanged(l.sessionID, updated)
	}
	return nil
}

func pending(s TaskState) bool {
	return s == TaskDraft || s == TaskReady || s == TaskWaitingUserInput
}

// completionState returns the final session state once every task is terminal.
func completionState(tasks []Task) (SessionState, bool) {
	failed := false
	for _, t := range tasks {
		if !t.State.Terminal() {
			return "", false
		}
		if t.State == TaskFailed || t.State == TaskBlocked {
			failed = true
		}
	}
	if failed {
		return SessionError, true
	}
	return SessionCompleted, true
}

// dispatch starts every runnable task in task order, up to one running task
// per roster member, with at most one workspace writer at a time.
func (l *Loop) dispatch(ctx context.Context, sess Session) (int, error) {
	byID := sess.TaskIndex()

	running := 0
	writerRunning := false
	for _, t := range sess.Tasks {
		if t.State == TaskRunning {
			running++
			if t.ResourceMode != ReadOnly {
				writerRunning = true
			}
		}
	}
	maxParallel := max(1, len(sess.Roster))

	dispatched := 0
	for _, t := range sess.Tasks {
		if running >= maxParallel {
			break
		}
		if t.State != TaskDraft && t.State != TaskReady {
			continue
		}
		if !depsCompleted(t, byID) || !t.hitlSatisfied() {
			continue
		}
		writer := t.ResourceMode != ReadOnly
		if writer && writerRunning {
			continue
		}

		member, ok := sess.Member(t.Assignee)
		if !ok {
			return dispatched, fmt.Errorf("%w: assignee %q of task %q not found in roster", ErrValidation, t.Assignee, t.ID)
		}

		now := l.now().UnixMilli()
		started, err := l.store.MutateTask(l.sessionID, t.ID, func(cur *Task) error {
			if (cur.State != TaskDraft && cur.State != TaskReady) || !cur.hitlSatisfied() {
				return errSkip
			}
			cur.State = TaskRunning
			cur.Error = nil
			cur.UpdatedAt = now
			cur.StartedAt = &now
			cur.FinishedAt = nil
			return nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if errors.Is(err, ErrNotRunning) {
			return dispatched, nil
		}
		if err != nil {
			return dispatched, fmt.Errorf("start task %s: %w", t.ID, err)
		}
		l.notify.TaskStateChanged(l.sessionID, started)

		running++
		if writer {
			writerRunning = true
		}
		dispatched++

		prompt := BuildTaskPrompt(sess.Goal, started, byID, l.cfg.MaxDepOutputChars)
		l.launch(ctx, sess, started, member, prompt)
	}
	return dispatched, nil
}

// cancel aborts in-flight units, waits for them to record their outcome and
// moves the session to Cancelled unless it already finished.
func (l *Loop) cancel(abortUnits context.CancelFunc) error {
	abortUnits()
	l.drain()

	sess, err := l.store.Snapshot(l.sessionID)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if sess.State.Terminal() {
		return nil
	}
	l.logger.Info("session cancelled")
	return l.store.UpdateSessionState(l.sessionID, SessionCancelled)
}

// reap collects finished units without blocking.
func (l *Loop) reap() {
	for {
		select {
		case res := <-l.done:
			l.finish(res)
		default:
			return
		}
	}
}

// idle waits for d, a store wake-up, a finished unit or cancellation.
func (l *Loop) idle(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-l.cfg.Wake:
	case res := <-l.done:
		l.finish(res)
	case <-timer.C:
	}
}

// drain waits up to AbortGrace for in-flight units. Units that overrun the
// grace period have their tasks recorded as Cancelled.
func (l *Loop) drain() {
	if l.drained {
		return
	}
	l.drained = true

	if l.inflight > 0 {
		timer := time.NewTimer(l.cfg.AbortGrace)
		defer timer.Stop()
	wait:
		for l.inflight > 0 {
			select {
			case res := <-l.done:
				l.finish(res)
			case <-timer.C:
				break wait
			}
		}
	}

	if l.inflight > 0 {
		l.logger.Warn("execution units did not stop within grace period", "units", l.inflight, "grace", l.cfg.AbortGrace)
		l.abandonRunning()
		return
	}
	if err := l.units.Wait(); err != nil {
		l.logger.Debug("execution unit group finished with error", "error", err)
	}
}

// abandonRunning records every still-Running task as Cancelled.
func (l *Loop) abandonRunning() {
	sess, err := l.store.Snapshot(l.sessionID)
	if err != nil {
		l.logger.Error("failed to read session while abandoning units", "error", err)
		return
	}
	for _, t := range sess.Tasks {
		if t.State != TaskRunning {
			continue
		}
		l.settle(t.ID, TaskCancelled, "cancelled: execution did not stop within grace period")
	}
}
