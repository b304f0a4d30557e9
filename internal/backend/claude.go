package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ClaudeExecutor runs prompts through the Claude Code CLI, one subprocess per
// execution.
type ClaudeExecutor struct {
	command      string
	args         []string
	workDir      string
	model        string
	systemPrompt string
	procMgr      *ProcessManager
}

// claudeResponse is the JSON document printed by `claude -p --output-format json`.
// Older CLI builds nest the text under result.content; current ones print it
// as a plain string.
type claudeResponse struct {
	SessionID string          `json:"session_id"`
	IsError   bool            `json:"is_error"`
	Result    json.RawMessage `json:"result"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeExecutor creates a Claude Code executor.
// The ProcessManager is optional - if nil, subprocesses won't be tracked.
func NewClaudeExecutor(cfg Config, procMgr *ProcessManager) (*ClaudeExecutor, error) {
	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	command := cfg.Command
	if command == "" {
		command = "claude"
	}

	return &ClaudeExecutor{
		command:      command,
		args:         append([]string(nil), cfg.Args...),
		workDir:      workDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		procMgr:      procMgr,
	}, nil
}

// Execute runs req.Prompt and returns the CLI's text result.
func (a *ClaudeExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	cmd := newCommand(ctx, a.command, a.buildArgs(req)...)
	cmd.Dir = a.workDir
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Result{}, cancelled(ctx, fmt.Errorf("claude command failed: %w", err))
	}

	text, err := parseClaudeResponse(stdout)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse claude response: %w (stderr: %s)", err, strings.TrimSpace(string(stderr)))
	}
	return Result{Text: text}, nil
}

// buildArgs constructs the command-line arguments for one execution.
func (a *ClaudeExecutor) buildArgs(req Request) []string {
	args := append([]string(nil), a.args...)
	args = append(args, "-p", req.Prompt, "--output-format", "json")

	runID := req.ParentContext.RunID
	if _, err := uuid.Parse(runID); err != nil {
		runID = uuid.NewString()
	}
	args = append(args, "--session-id", runID)

	if a.model != "" {
		args = append(args, "--model", a.model)
	}
	if a.systemPrompt != "" {
		args = append(args, "--system-prompt", a.systemPrompt)
	}
	if req.Constraints != nil && req.Constraints.ReadOnly {
		args = append(args, "--permission-mode", "plan")
	}

	return args
}

// parseClaudeResponse extracts the text result from the CLI's JSON output.
func parseClaudeResponse(data []byte) (string, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var text string
	if err := json.Unmarshal(cr.Result, &text); err != nil {
		var nested claudeContent
		if err := json.Unmarshal(cr.Result, &nested); err != nil {
			return "", fmt.Errorf("unexpected result shape: %w", err)
		}
		for _, item := range nested.Content {
			if item.Type == "text" {
				text += item.Text
			}
		}
	}

	if cr.IsError {
		return "", fmt.Errorf("claude reported an error: %s", text)
	}
	return text, nil
}
