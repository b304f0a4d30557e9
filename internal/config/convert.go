package config

import (
	"github.com/aristath/cowork/internal/backend"
	"github.com/aristath/cowork/internal/planner"
	"github.com/aristath/cowork/internal/scheduler"
)

// BackendConfigs returns the executor table in the form backend.NewRegistryFromConfig takes.
func (c *CoworkConfig) BackendConfigs(workDir string) map[string]backend.Config {
	out := make(map[string]backend.Config, len(c.Executors))
	for name, e := range c.Executors {
		out[name] = backend.Config{
			Type:         e.Type,
			Command:      e.Command,
			Args:         append([]string(nil), e.Args...),
			WorkDir:      workDir,
			Model:        e.Model,
			SystemPrompt: e.SystemPrompt,
		}
	}
	return out
}

// BreakerSettings returns the executor circuit breaker settings.
func (c *CoworkConfig) BreakerSettings() backend.BreakerConfig {
	return backend.BreakerConfig{
		MaxFailures: c.Breaker.MaxFailures,
		OpenTimeout: c.Breaker.OpenTimeout.Std(),
		MaxRequests: c.Breaker.MaxRequests,
	}
}

// LoopConfig returns the scheduler loop settings.
func (c *CoworkConfig) LoopConfig() scheduler.LoopConfig {
	return scheduler.LoopConfig{
		PollInterval:       c.Scheduler.PollInterval.Std(),
		PausedPollInterval: c.Scheduler.PausedPollInterval.Std(),
		AbortGrace:         c.Scheduler.AbortGrace.Std(),
		MaxDepOutputChars:  c.Scheduler.MaxDepOutputChars,
	}
}

// PlannerSettings returns the plan generator settings.
func (c *CoworkConfig) PlannerSettings() planner.Config {
	return planner.Config{
		MaxRetries:      c.Planner.MaxRetries,
		InitialInterval: c.Planner.InitialInterval.Std(),
		MaxInterval:     c.Planner.MaxInterval.Std(),
	}
}
