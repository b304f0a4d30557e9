package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/cowork/internal/logging"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*CoworkConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Project config has the highest precedence
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath returns ~/.cowork/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cowork", "config.json"), nil
}

// ProjectPath is the project config path, relative to the working directory.
const ProjectPath = ".cowork/config.json"

// LoadDefault loads configuration from conventional paths.
// Global: ~/.cowork/config.json
// Project: .cowork/config.json (relative to cwd)
func LoadDefault() (*CoworkConfig, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, filepath.FromSlash(ProjectPath))
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Executors merge by key; any other field present in the file replaces the
// current value. Missing files are silently skipped.
func mergeConfigFile(base *CoworkConfig, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	executors := base.Executors
	base.Executors = nil
	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for key, exec := range base.Executors {
		executors[key] = exec
	}
	base.Executors = executors

	return nil
}

// Validate checks that executor types are runnable and that the roster only
// references configured executor types.
func (c *CoworkConfig) Validate() error {
	for name, exec := range c.Executors {
		switch exec.Type {
		case "claude", "command":
		default:
			return fmt.Errorf("executor %q: unknown type %q", name, exec.Type)
		}
		if exec.Type == "command" && exec.Command == "" {
			return fmt.Errorf("executor %q: command executors need a command", name)
		}
	}

	seen := make(map[string]bool, len(c.Roster))
	for i, m := range c.Roster {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("roster member %d: missing id", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("roster member %q: duplicate id", m.ID)
		}
		seen[m.ID] = true
		if _, ok := c.Executors[m.ExecutorType]; !ok {
			return fmt.Errorf("roster member %q: executor type %q is not configured", m.ID, m.ExecutorType)
		}
	}

	if c.Scheduler.MaxDepOutputChars < 0 {
		return fmt.Errorf("scheduler.max_dep_output_chars must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
