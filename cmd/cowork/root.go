package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/cowork/internal/config"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	projectConfig string
	logLevel      string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cowork",
		Short: "Decompose goals into task graphs and run them with a roster of agents",
		Long: `cowork turns a goal into a plan of dependent tasks, assigns each task to a
roster member and runs the plan, asking for clarification when a task needs it.

Configuration is read from ~/.cowork/config.json and then .cowork/config.json,
later files overriding earlier ones.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.projectConfig, "config", filepath.FromSlash(config.ProjectPath), "project config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	return cmd
}

// loadConfig merges the global config with the project config named by the flags.
func (o *rootOptions) loadConfig() (*config.CoworkConfig, error) {
	globalPath, err := config.GlobalPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(globalPath, o.projectConfig)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
	}
	return cfg, nil
}
