package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// newCommand creates an exec.Cmd in its own process group.
// Cancelling ctx kills the whole group, so helper processes spawned by the
// executor CLI do not outlive the task.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

// executeCommand runs cmd and returns its stdout and stderr.
// Both pipes are drained concurrently before cmd.Wait so large outputs cannot
// fill a pipe buffer and deadlock the child. When pm is non-nil the process is
// tracked for the duration of the run.
func executeCommand(ctx context.Context, cmd *exec.Cmd, pm *ProcessManager) (stdout []byte, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderrBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	stdout = stdoutBuf.Bytes()
	stderr = stderrBuf.Bytes()

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout, stderr, fmt.Errorf("command aborted: %w (%v)", ctxErr, waitErr)
		}
		if len(stderr) > 0 {
			return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, bytes.TrimSpace(stderr))
		}
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}

	return stdout, stderr, nil
}

// killProcessGroup sends SIGKILL to the process group of cmd.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// ProcessManager tracks running executor subprocesses so they can all be
// terminated on shutdown.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a started subprocess.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess after it has been waited for.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates every tracked subprocess group.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors killing processes: %v", errs)
	}
	return nil
}

// Count returns the number of tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
