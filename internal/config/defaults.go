package config

import "time"

// DefaultConfig returns the default configuration: one claude-backed executor
// type used by the built-in roster and the stock scheduler tuning.
func DefaultConfig() *CoworkConfig {
	return &CoworkConfig{
		Executors: map[string]ExecutorConfig{
			"explore": {
				Type:    "claude",
				Command: "claude",
			},
		},
		Roster: nil, // the built-in planner/developer/reviewer/researcher roster
		Scheduler: SchedulerConfig{
			PollInterval:       Duration(250 * time.Millisecond),
			PausedPollInterval: Duration(200 * time.Millisecond),
			AbortGrace:         Duration(5 * time.Second),
			MaxDepOutputChars:  2000,
		},
		Planner: PlannerConfig{
			MaxRetries:      2,
			InitialInterval: Duration(500 * time.Millisecond),
			MaxInterval:     Duration(10 * time.Second),
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			OpenTimeout: Duration(30 * time.Second),
			MaxRequests: 3,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
		Storage: StorageConfig{
			Path: "",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
