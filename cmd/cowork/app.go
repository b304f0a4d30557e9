package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aristath/cowork/internal/backend"
	"github.com/aristath/cowork/internal/config"
	"github.com/aristath/cowork/internal/events"
	"github.com/aristath/cowork/internal/observability"
	"github.com/aristath/cowork/internal/persistence"
	"github.com/aristath/cowork/internal/planner"
	"github.com/aristath/cowork/internal/session"
)

const metricsNamespace = "cowork"

// app holds the long-lived components shared by serve and run.
type app struct {
	logger  *slog.Logger
	procs   *backend.ProcessManager
	bus     *events.EventBus
	metrics *observability.Metrics
	store   *session.Store
	db      *persistence.SQLiteStore // nil when persistence is disabled

	stopMetrics context.CancelFunc
	metricsDone chan struct{}
}

// newApp wires executors, planner, event bus, metrics, persistence and the
// session store from cfg, then restores persisted sessions.
func newApp(ctx context.Context, cfg *config.CoworkConfig, logger *slog.Logger) (*app, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	procs := backend.NewProcessManager()
	registry, err := backend.NewRegistryFromConfig(cfg.BackendConfigs(workDir), cfg.BreakerSettings(), procs, logger)
	if err != nil {
		return nil, fmt.Errorf("building executors: %w", err)
	}

	a := &app{
		logger:      logger,
		procs:       procs,
		bus:         events.NewEventBus(logger),
		metrics:     observability.NewMetrics(metricsNamespace),
		metricsDone: make(chan struct{}),
	}
	a.metrics.TrackDropped(metricsNamespace, a.bus.Dropped)

	var persister session.Persister
	if cfg.Storage.Path != "" {
		a.db, err = persistence.NewSQLiteStore(ctx, cfg.Storage.Path)
		if err != nil {
			a.bus.Close()
			return nil, fmt.Errorf("opening session storage: %w", err)
		}
		persister = a.db
	}

	a.store = session.New(registry, planner.New(registry, cfg.PlannerSettings(), logger), events.NewNotifier(a.bus), session.Config{
		DefaultRoster: cfg.Roster,
		Loop:          cfg.LoopConfig(),
		Persister:     persister,
		Logger:        logger,
	})

	metricsCtx, stop := context.WithCancel(context.Background())
	a.stopMetrics = stop
	sub := a.bus.SubscribeAll(256)
	go func() {
		defer close(a.metricsDone)
		a.metrics.Consume(metricsCtx, sub)
	}()

	if a.db != nil {
		n, err := a.store.Restore(ctx)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("restoring sessions: %w", err)
		}
		logger.Info("sessions restored", "count", n, "path", cfg.Storage.Path)
	}
	return a, nil
}

// close stops the scheduler loops, kills leftover subprocesses and releases
// the bus and storage.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.store.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.procs.KillAll(); err != nil {
		errs = append(errs, err)
	}

	a.stopMetrics()
	<-a.metricsDone
	a.bus.Close()

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
