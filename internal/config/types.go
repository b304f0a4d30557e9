package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/cowork/internal/scheduler"
)

// Duration is a time.Duration written as a string ("250ms", "30s") in JSON.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ExecutorConfig defines how one executor type is run.
// Several roster members can share one executor type.
type ExecutorConfig struct {
	Type         string   `json:"type"`                    // "claude" or "command"
	Command      string   `json:"command,omitempty"`       // Binary; defaults per type
	Args         []string `json:"args,omitempty"`          // Extra arguments placed before the prompt
	Model        string   `json:"model,omitempty"`         // Model override
	SystemPrompt string   `json:"system_prompt,omitempty"` // Appended system prompt
}

// SchedulerConfig tunes the per-session scheduler loop.
type SchedulerConfig struct {
	PollInterval       Duration `json:"poll_interval"`
	PausedPollInterval Duration `json:"paused_poll_interval"`
	AbortGrace         Duration `json:"abort_grace"`
	MaxDepOutputChars  int      `json:"max_dep_output_chars"`
}

// PlannerConfig controls retries of the planning call.
type PlannerConfig struct {
	MaxRetries      uint64   `json:"max_retries"`
	InitialInterval Duration `json:"initial_interval"`
	MaxInterval     Duration `json:"max_interval"`
}

// BreakerConfig configures the circuit breaker in front of every executor type.
type BreakerConfig struct {
	MaxFailures uint32   `json:"max_failures"`
	OpenTimeout Duration `json:"open_timeout"`
	MaxRequests uint32   `json:"max_requests"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// StorageConfig configures session persistence. An empty path keeps sessions
// in memory only.
type StorageConfig struct {
	Path string `json:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `json:"level"` // debug, info, warn or error
}

// CoworkConfig is the top-level configuration.
type CoworkConfig struct {
	Executors map[string]ExecutorConfig `json:"executors"`
	// Roster is the roster given to sessions created without one.
	Roster    []scheduler.RosterMember `json:"roster"`
	Scheduler SchedulerConfig          `json:"scheduler"`
	Planner   PlannerConfig            `json:"planner"`
	Breaker   BreakerConfig            `json:"breaker"`
	Server    ServerConfig             `json:"server"`
	Storage   StorageConfig            `json:"storage"`
	Log       LogConfig                `json:"log"`
}
