package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aristath/cowork/internal/backend"
)

// launch runs one task on the executor as an independent unit.
func (l *Loop) launch(ctx context.Context, sess Session, task Task, member RosterMember, prompt string) {
	req := backend.Request{
		ExecutorType: member.ExecutorType,
		Prompt:       prompt,
		ParentContext: backend.ParentContext{
			SessionID: sess.ID,
			TaskID:    task.ID,
			RunID:     uuid.NewString(),
		},
		Constraints: &backend.Constraints{ReadOnly: task.ResourceMode == ReadOnly},
		WorkDir:     sess.WorkspaceRoot,
	}

	l.logger.Info("dispatching task",
		"task_id", task.ID,
		"assignee", member.ID,
		"executor_type", member.ExecutorType,
		"resource_mode", task.ResourceMode)

	l.inflight++
	l.units.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("execution unit for task %s panicked: %v", task.ID, r)
			}
			select {
			case l.done <- unitResult{taskID: task.ID, err: err}:
			case <-l.stopped:
			}
		}()
		l.execute(ctx, task.ID, req)
		return nil
	})
}

// execute calls the executor and records the outcome on the task.
// Cancellation of ctx wins over any result the executor still produced.
func (l *Loop) execute(ctx context.Context, taskID string, req backend.Request) {
	res, execErr := l.exec.Execute(ctx, req)

	switch {
	case ctx.Err() != nil || isCancellation(execErr):
		msg := "cancelled"
		if execErr != nil {
			msg = execErr.Error()
		}
		l.settle(taskID, TaskCancelled, msg)
	case execErr != nil:
		l.settle(taskID, TaskFailed, execErr.Error())
	default:
		l.complete(taskID, res.Text)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, backend.ErrCancelled) ||
		errors.Is(err, ErrCancelled)
}

// complete records a successful run and publishes its output.
func (l *Loop) complete(taskID, output string) {
	now := l.now().UnixMilli()
	updated, err := l.store.MutateTask(l.sessionID, taskID, func(t *Task) error {
		if t.State != TaskRunning {
			return errSkip
		}
		t.State = TaskCompleted
		t.OutputText = output
		t.Error = nil
		t.UpdatedAt = now
		t.FinishedAt = &now
		return nil
	})
	if err != nil {
		l.logMutateFailure(taskID, TaskCompleted, err)
		return
	}
	l.logger.Info("task completed", "task_id", taskID, "output_chars", len(output))
	l.notify.TaskOutput(l.sessionID, updated)
	l.notify.TaskStateChanged(l.sessionID, updated)
}

// settle records a Failed or Cancelled outcome with msg as the task error.
func (l *Loop) settle(taskID string, state TaskState, msg string) {
	now := l.now().UnixMilli()
	updated, err := l.store.MutateTask(l.sessionID, taskID, func(t *Task) error {
		if t.State != TaskRunning {
			return errSkip
		}
		t.State = state
		t.SetError(msg)
		t.UpdatedAt = now
		t.FinishedAt = &now
		return nil
	})
	if err != nil {
		l.logMutateFailure(taskID, state, err)
		return
	}
	if state == TaskFailed {
		l.logger.Warn("task failed", "task_id", taskID, "error", msg)
	} else {
		l.logger.Info("task cancelled", "task_id", taskID)
	}
	l.notify.TaskStateChanged(l.sessionID, updated)
}

func (l *Loop) logMutateFailure(taskID string, state TaskState, err error) {
	if errors.Is(err, errSkip) {
		l.logger.Debug("task outcome already recorded", "task_id", taskID, "state", state)
		return
	}
	l.logger.Warn("failed to record task outcome", "task_id", taskID, "state", state, "error", err)
}

// finish accounts for a unit that returned. A unit error is a crash, not a
// task outcome; the task is failed so the session cannot stall on it.
func (l *Loop) finish(res unitResult) {
	l.inflight--
	if res.err == nil {
		return
	}
	l.logger.Error("execution unit crashed", "task_id", res.taskID, "error", res.err)
	l.settle(res.taskID, TaskFailed, res.err.Error())
}
