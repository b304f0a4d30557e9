package backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned when an execution was aborted by its context.
	ErrCancelled = errors.New("execution cancelled")
	// ErrUnknownExecutor is returned for executor types with no registered executor.
	ErrUnknownExecutor = errors.New("unknown executor type")
)

// Executor runs one prompt to completion.
// Implementations must abort promptly when ctx is cancelled and report that
// case with an error matching ErrCancelled or context.Canceled.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (Result, error)

// Execute calls f(ctx, req).
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// New creates an executor from cfg.
// The ProcessManager is optional; when nil, subprocesses are not tracked.
func New(cfg Config, pm *ProcessManager) (Executor, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeExecutor(cfg, pm)
	case "command":
		return NewCommandExecutor(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// cancelled maps a failure caused by ctx cancellation onto ErrCancelled.
func cancelled(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}
