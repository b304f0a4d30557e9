// Package session owns cowork sessions: it creates them, installs plans,
// starts and stops their scheduler loops and applies every state change
// atomically.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/cowork/internal/backend"
	"github.com/aristath/cowork/internal/scheduler"
)

// Notifier receives every session and task notification.
type Notifier interface {
	scheduler.Notifier
	SessionCreated(sess scheduler.Session)
	SessionState(sessionID string, state scheduler.SessionState)
	PlanGenerated(sess scheduler.Session)
	PlanUpdated(sess scheduler.Session)
	// AnswersSubmitted reports answers stored on taskID as a plan update.
	AnswersSubmitted(sess scheduler.Session, taskID string)
}

// PlanGenerator turns a goal into Draft tasks.
type PlanGenerator interface {
	Generate(ctx context.Context, sessionID string, member scheduler.RosterMember, goal string, roster []scheduler.RosterMember) ([]scheduler.Task, error)
}

// Persister stores session snapshots.
type Persister interface {
	SaveSession(ctx context.Context, sess scheduler.Session) error
	LoadSessions(ctx context.Context) ([]scheduler.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Config configures a Store.
type Config struct {
	// DefaultRoster replaces the built-in roster for sessions created without one.
	DefaultRoster []scheduler.RosterMember
	// Loop is the configuration of every scheduler loop the store starts.
	Loop scheduler.LoopConfig
	// Persister, when set, receives a snapshot after every change.
	Persister Persister
	Logger    *slog.Logger
}

// entry is one session and its runtime handles.
type entry struct {
	// Guarded by Store.mu.
	sess     scheduler.Session
	rev      uint64
	stopLoop context.CancelFunc
	stopPlan context.CancelFunc
	deleted  bool

	// startMu serializes Start, Cancel and Delete.
	startMu sync.Mutex
	// guard is held by the scheduler loop for its whole lifetime.
	guard sync.Mutex
	wake  chan struct{}

	saveMu   sync.Mutex
	savedRev uint64
}

// Store is the registry of cowork sessions. It implements scheduler.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	exec    backend.Executor
	plans   PlanGenerator
	notify  Notifier
	persist Persister
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	base    context.Context
	stopAll context.CancelFunc
	loops   sync.WaitGroup
	closed  atomic.Bool
}

// New creates a Store. exec runs tasks, plans generates plans and notify
// receives events; a nil notifier discards them.
func New(exec backend.Executor, plans PlanGenerator, notify Notifier, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = nopNotifier{}
	}
	base, stopAll := context.WithCancel(context.Background())

	return &Store{
		sessions: make(map[string]*entry),
		exec:     exec,
		plans:    plans,
		notify:   notify,
		persist:  cfg.Persister,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return "cowork-" + uuid.NewString() },
		base:     base,
		stopAll:  stopAll,
	}
}

func (s *Store) ts() int64 { return s.now().UnixMilli() }

// lookup returns the entry for sessionID.
func (s *Store) lookup(sessionID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: cowork session not found: %s", scheduler.ErrNotFound, sessionID)
	}
	return e, nil
}

// commit bumps the revision, wakes the loop and returns what to persist.
// Must be called with s.mu held.
func (s *Store) commit(e *entry) (scheduler.Session, uint64) {
	e.rev++
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return e.sess.Clone(), e.rev
}

// save writes sess to the persister unless a newer revision was already
// written. Failures are logged and never reach the caller.
func (s *Store) save(e *entry, sess scheduler.Session, rev uint64) {
	if s.persist == nil || s.closed.Load() {
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if rev <= e.savedRev {
		return
	}
	s.mu.RLock()
	deleted := e.deleted
	s.mu.RUnlock()
	if deleted {
		return
	}
	if err := s.persist.SaveSession(context.Background(), sess); err != nil {
		s.logger.Warn("failed to persist session", "session_id", sess.ID, "error", err)
		return
	}
	e.savedRev = rev
}

// Snapshot returns a copy of the session.
func (s *Store) Snapshot(sessionID string) (scheduler.Session, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return scheduler.Session{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.sess.Clone(), nil
}

// List returns copies of all sessions, oldest first.
func (s *Store) List() []scheduler.Session {
	s.mu.RLock()
	out := make([]scheduler.Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, e.sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MutateTask applies fn to a copy of the task and stores the result if the
// state change is allowed. A task only starts while its session is running.
// Nothing is emitted.
func (s *Store) MutateTask(sessionID, taskID string, fn func(*scheduler.Task) error) (scheduler.Task, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return scheduler.Task{}, err
	}

	s.mu.Lock()
	idx := taskPosition(e.sess, taskID)
	if idx < 0 {
		s.mu.Unlock()
		return scheduler.Task{}, fmt.Errorf("%w: task not found in session: %s", scheduler.ErrNotFound, taskID)
	}
	before := e.sess.Tasks[idx]
	after := before.Clone()
	if err := fn(&after); err != nil {
		s.mu.Unlock()
		return scheduler.Task{}, err
	}
	if err := scheduler.CheckTransition(before, after); err != nil {
		s.mu.Unlock()
		return scheduler.Task{}, err
	}
	if after.State == scheduler.TaskRunning && before.State != scheduler.TaskRunning && e.sess.State != scheduler.SessionRunning {
		state := e.sess.State
		s.mu.Unlock()
		return scheduler.Task{}, fmt.Errorf("%w: cannot start task %s while session is %s", scheduler.ErrNotRunning, taskID, state)
	}
	e.sess.Tasks[idx] = after
	e.sess.UpdatedAt = s.ts()
	snap, rev := s.commit(e)
	s.mu.Unlock()

	s.save(e, snap, rev)
	return after.Clone(), nil
}

// UpdateTask replaces a task and emits task-state-changed.
func (s *Store) UpdateTask(sessionID string, task scheduler.Task) error {
	now := s.ts()
	updated, err := s.MutateTask(sessionID, task.ID, func(cur *scheduler.Task) error {
		*cur = task.Clone()
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	s.notify.TaskStateChanged(sessionID, updated)
	return nil
}

// UpdateSessionState stores state and emits session-state. A terminal
// session keeps its state; only a new plan reopens it.
func (s *Store) UpdateSessionState(sessionID string, state scheduler.SessionState) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cur := e.sess.State
	if cur.Terminal() && cur != state {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", scheduler.ErrInvalidTransition, sessionID, cur)
	}
	snap, rev := s.setState(e, state)
	s.mu.Unlock()

	s.save(e, snap, rev)
	s.notify.SessionState(sessionID, state)
	return nil
}

// setState changes the session state. Must be called with s.mu held.
func (s *Store) setState(e *entry, state scheduler.SessionState) (scheduler.Session, uint64) {
	e.sess.State = state
	e.sess.UpdatedAt = s.ts()
	return s.commit(e)
}

func taskPosition(sess scheduler.Session, taskID string) int {
	for i, t := range sess.Tasks {
		if t.ID == taskID {
			return i
		}
	}
	return -1
}

type nopNotifier struct{}

func (nopNotifier) TaskStateChanged(string, scheduler.Task)     {}
func (nopNotifier) TaskOutput(string, scheduler.Task)           {}
func (nopNotifier) NeedsUserInput(string, scheduler.Task)       {}
func (nopNotifier) SessionCreated(scheduler.Session)            {}
func (nopNotifier) SessionState(string, scheduler.SessionState) {}
func (nopNotifier) PlanGenerated(scheduler.Session)             {}
func (nopNotifier) PlanUpdated(scheduler.Session)               {}
func (nopNotifier) AnswersSubmitted(scheduler.Session, string)  {}
