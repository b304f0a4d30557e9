package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/cowork/internal/events"
	"github.com/aristath/cowork/internal/logging"
	"github.com/aristath/cowork/internal/scheduler"
	"github.com/aristath/cowork/internal/session"
	"github.com/aristath/cowork/internal/tui"
)

type runOptions struct {
	workspace string
	logFile   string
	headless  bool
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Plan a goal and run it, watching progress in the terminal",
		Long: `Create a session for the goal, generate its plan with the roster's planner,
start it and watch it in a terminal UI. Quitting the UI cancels a session that
is still running.

With --headless the task transitions are printed instead and the command
returns when the session finishes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoal(cmd, opts, ro, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&ro.workspace, "workspace", "w", ".", "workspace root the tasks run in")
	cmd.Flags().StringVar(&ro.logFile, "log-file", filepath.Join(".cowork", "cowork.log"), "log file (the terminal belongs to the UI)")
	cmd.Flags().BoolVar(&ro.headless, "headless", false, "print task transitions instead of starting the UI")
	return cmd
}

func runGoal(cmd *cobra.Command, opts *rootOptions, ro *runOptions, goal string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	workspace, err := filepath.Abs(ro.workspace)
	if err != nil {
		return fmt.Errorf("resolving workspace: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, logFile, err := logging.OpenFile(ro.logFile, level)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	id, err := a.store.CreateSession(ctx, session.CreateRequest{Goal: goal, WorkspaceRoot: workspace})
	if err != nil {
		return err
	}
	sub := a.bus.Subscribe(id, 256)
	defer a.bus.Unsubscribe(sub)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s: planning %q\n", id, goal)
	tasks, err := a.store.GeneratePlan(ctx, id)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	fmt.Fprintf(out, "Plan has %d tasks\n", len(tasks))

	if err := a.store.Start(ctx, id); err != nil {
		return err
	}

	if ro.headless {
		err = watchHeadless(ctx, a.store, sub, id, out)
	} else {
		err = watchTUI(ctx, a.store, sub, id)
	}
	if err != nil {
		return err
	}

	sess, err := a.store.Snapshot(id)
	if err != nil {
		return err
	}
	printSummary(out, sess)
	if sess.State == scheduler.SessionError {
		return fmt.Errorf("session %s ended in %s", id, sess.State)
	}
	return nil
}

// watchTUI runs the session watcher until the user quits or ctx ends.
func watchTUI(ctx context.Context, store *session.Store, sub <-chan events.Event, id string) error {
	sess, err := store.Snapshot(id)
	if err != nil {
		return err
	}

	p := tea.NewProgram(tui.New(ctx, store, sub, sess), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			// Signal received; cancel the session as quitting would.
			return store.Cancel(id)
		}
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// watchHeadless prints task transitions until the session reaches a terminal state.
func watchHeadless(ctx context.Context, store *session.Store, sub <-chan events.Event, id string, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return store.Cancel(id)
		case e, ok := <-sub:
			if !ok {
				return errors.New("event stream closed")
			}
			switch ev := e.(type) {
			case events.TaskStateChangedEvent:
				line := fmt.Sprintf("  %-20s %s", ev.TaskID, ev.State)
				if ev.Error != nil {
					line += ": " + *ev.Error
				}
				fmt.Fprintln(out, line)
			case events.NeedsUserInputEvent:
				fmt.Fprintf(out, "Task %s needs input:\n", ev.TaskID)
				for _, q := range ev.Questions {
					fmt.Fprintf(out, "  - %s\n", q)
				}
				if err := store.Cancel(id); err != nil {
					return err
				}
				return fmt.Errorf("task %s needs input; run without --headless to answer", ev.TaskID)
			case events.SessionStateEvent:
				if ev.State.Terminal() {
					return nil
				}
			}
		}
	}
}

func printSummary(out io.Writer, sess scheduler.Session) {
	fmt.Fprintf(out, "Session %s %s\n", sess.ID, sess.State)
	for _, t := range sess.Tasks {
		fmt.Fprintf(out, "  [%s] %s (%s)\n", t.State, t.Title, t.Assignee)
		if msg := t.ErrorText(); msg != "" {
			fmt.Fprintf(out, "      error: %s\n", msg)
		}
	}
}
