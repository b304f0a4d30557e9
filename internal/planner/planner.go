// Package planner turns a goal into a task graph by asking the session's
// planner member for a draft plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/aristath/cowork/internal/backend"
	"github.com/aristath/cowork/internal/scheduler"
)

// FallbackAssignee receives tasks whose role matches no roster member.
const FallbackAssignee = "developer"

// Config configures collaborator retries.
type Config struct {
	MaxRetries      uint64        // retries after the first attempt (default 2)
	InitialInterval time.Duration // first backoff interval (default 500ms)
	MaxInterval     time.Duration // backoff cap (default 10s)
}

// DefaultConfig returns the default planner configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Planner generates plans through an executor.
type Planner struct {
	exec   backend.Executor
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	newID  func(position int) string
}

// New creates a Planner. A nil logger uses slog.Default().
func New(exec backend.Executor, cfg Config, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	return &Planner{
		exec:   exec,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID: func(position int) string {
			return fmt.Sprintf("task-%d-%s", position, uuid.NewString())
		},
	}
}

// Generate asks member to decompose goal and returns Draft tasks in plan
// order, with dependencies resolved to task ids and assignees resolved to
// roster member ids.
func (p *Planner) Generate(ctx context.Context, sessionID string, member scheduler.RosterMember, goal string, roster []scheduler.RosterMember) ([]scheduler.Task, error) {
	req := backend.Request{
		ExecutorType: member.ExecutorType,
		Prompt:       BuildPrompt(goal, roster),
		ParentContext: backend.ParentContext{
			SessionID: sessionID,
			TaskID:    "cowork-planning",
			RunID:     uuid.NewString(),
		},
		Constraints: &backend.Constraints{ReadOnly: true},
	}

	text, err := p.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	plan, err := parseDraft(text)
	if err != nil {
		p.logger.Warn("planner output rejected", "session_id", sessionID, "error", err)
		return nil, err
	}

	tasks := p.build(plan, roster)
	p.logger.Info("plan generated", "session_id", sessionID, "planner", member.ID, "tasks", len(tasks))
	return tasks, nil
}

// execute calls the collaborator, retrying transport failures with
// exponential backoff. Cancellation and an open circuit are not retried.
func (p *Planner) execute(ctx context.Context, req backend.Request) (string, error) {
	var text string
	attempt := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++

		res, err := p.exec.Execute(ctx, req)
		if err == nil {
			text = res.Text
			return nil
		}
		if ctx.Err() != nil ||
			errors.Is(err, backend.ErrCancelled) ||
			errors.Is(err, backend.ErrUnknownExecutor) ||
			errors.Is(err, gobreaker.ErrOpenState) ||
			errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		p.logger.Warn("planner call failed", "session_id", req.ParentContext.SessionID, "attempt", attempt, "error", err)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.InitialInterval
	policy.MaxInterval = p.cfg.MaxInterval
	policy.MaxElapsedTime = 0 // bounded by MaxRetries

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, p.cfg.MaxRetries), ctx))
	return text, err
}

// build assigns ids in draft order, then resolves dependency positions to ids.
func (p *Planner) build(plan draftPlan, roster []scheduler.RosterMember) []scheduler.Task {
	now := p.now().UnixMilli()

	ids := make([]string, len(plan.Tasks))
	tasks := make([]scheduler.Task, len(plan.Tasks))
	for i, d := range plan.Tasks {
		ids[i] = p.newID(i + 1)
		tasks[i] = scheduler.Task{
			ID:           ids[i],
			Title:        strings.TrimSpace(d.Title),
			Description:  strings.TrimSpace(d.Description),
			Assignee:     ResolveAssignee(roster, d.AssigneeRole),
			State:        scheduler.TaskDraft,
			ResourceMode: scheduler.ParseResourceMode(strings.TrimSpace(d.ResourceMode)),
			Questions:    nonEmpty(d.Questions),
			UserAnswers:  []string{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	for i, d := range plan.Tasks {
		deps := make([]string, 0, len(d.Deps))
		seen := make(map[int]bool, len(d.Deps))
		for _, idx := range d.Deps {
			if seen[idx] {
				continue
			}
			seen[idx] = true
			deps = append(deps, ids[idx])
		}
		tasks[i].Deps = deps
	}
	return tasks
}

// ResolveAssignee maps a planner role to a roster member id by
// case-insensitive match on role or id. Unmatched roles go to the
// "developer" member, or the first member when there is none.
func ResolveAssignee(roster []scheduler.RosterMember, role string) string {
	role = strings.TrimSpace(role)
	if role != "" {
		for _, m := range roster {
			if strings.EqualFold(m.Role, role) || strings.EqualFold(m.ID, role) {
				return m.ID
			}
		}
	}
	for _, m := range roster {
		if strings.EqualFold(m.ID, FallbackAssignee) || strings.EqualFold(m.Role, FallbackAssignee) {
			return m.ID
		}
	}
	if len(roster) > 0 {
		return roster[0].ID
	}
	return FallbackAssignee
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
