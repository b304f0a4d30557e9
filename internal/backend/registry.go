package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry resolves executor types to executors at dispatch time.
// It implements Executor itself by routing on Request.ExecutorType.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// NewRegistryFromConfig builds one breaker-guarded executor per configured
// executor type.
func NewRegistryFromConfig(cfgs map[string]Config, breaker BreakerConfig, pm *ProcessManager, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	for name, cfg := range cfgs {
		exec, err := New(cfg, pm)
		if err != nil {
			return nil, fmt.Errorf("executor %q: %w", name, err)
		}
		r.Register(name, NewBreakerExecutor(name, exec, breaker, logger))
	}
	return r, nil
}

// Register installs exec for executorType, replacing any previous one.
func (r *Registry) Register(executorType string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executorType] = exec
}

// Lookup returns the executor registered for executorType.
func (r *Registry) Lookup(executorType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[executorType]
	return exec, ok
}

// Types returns the registered executor types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Execute dispatches req to the executor registered for req.ExecutorType.
func (r *Registry) Execute(ctx context.Context, req Request) (Result, error) {
	exec, ok := r.Lookup(req.ExecutorType)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownExecutor, req.ExecutorType)
	}
	return exec.Execute(ctx, req)
}
