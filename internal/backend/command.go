package backend

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// CommandExecutor runs an arbitrary command per execution. The prompt is
// written to stdin and trimmed stdout becomes the result text.
//
// Environment passed to the child:
//
//	COWORK_SESSION_ID, COWORK_TASK_ID, COWORK_RUN_ID
//	COWORK_READ_ONLY=1 when the run must not modify the workspace
type CommandExecutor struct {
	command string
	args    []string
	workDir string
	procMgr *ProcessManager
}

// NewCommandExecutor creates a command executor. cfg.Command is required.
func NewCommandExecutor(cfg Config, procMgr *ProcessManager) (*CommandExecutor, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command executor requires a command")
	}
	return &CommandExecutor{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		workDir: cfg.WorkDir,
		procMgr: procMgr,
	}, nil
}

// Execute runs the command with req.Prompt on stdin.
func (c *CommandExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	cmd := newCommand(ctx, c.command, c.args...)
	cmd.Dir = c.workDir
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = append(os.Environ(),
		"COWORK_SESSION_ID="+req.ParentContext.SessionID,
		"COWORK_TASK_ID="+req.ParentContext.TaskID,
		"COWORK_RUN_ID="+req.ParentContext.RunID,
	)
	if req.Constraints != nil && req.Constraints.ReadOnly {
		cmd.Env = append(cmd.Env, "COWORK_READ_ONLY=1")
	}

	stdout, _, err := executeCommand(ctx, cmd, c.procMgr)
	if err != nil {
		return Result{}, cancelled(ctx, fmt.Errorf("%s failed: %w", c.command, err))
	}
	return Result{Text: strings.TrimSpace(string(stdout))}, nil
}
