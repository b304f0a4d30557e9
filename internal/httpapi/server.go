// Package httpapi exposes cowork sessions over HTTP and streams their events
// over websockets.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/aristath/cowork/internal/events"
	"github.com/aristath/cowork/internal/observability"
	"github.com/aristath/cowork/internal/scheduler"
	"github.com/aristath/cowork/internal/session"
)

// Sessions is the session store the API drives.
type Sessions interface {
	CreateSession(ctx context.Context, req session.CreateRequest) (string, error)
	List() []scheduler.Session
	Snapshot(sessionID string) (scheduler.Session, error)
	GeneratePlan(ctx context.Context, sessionID string) ([]scheduler.Task, error)
	UpdatePlan(ctx context.Context, sessionID string, tasks []scheduler.Task, taskOrder []string) error
	Start(ctx context.Context, sessionID string) error
	Pause(sessionID string) error
	Cancel(sessionID string) error
	SubmitUserInput(sessionID, taskID string, answers []string) error
	Delete(ctx context.Context, sessionID string) error
}

// Subscriber hands out per-session event subscriptions.
type Subscriber interface {
	Subscribe(topic string, bufSize int) <-chan events.Event
	Unsubscribe(sub <-chan events.Event)
}

type Server struct {
	sessions Sessions
	bus      Subscriber
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a Server. metrics may be nil, in which case /metrics is not served.
func New(sessions Sessions, bus Subscriber, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions: sessions,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
	}
}

// sameOrigin allows non-browser clients and browsers on the API's own host.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/", s.handleListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/plan", s.handleGeneratePlan)
			r.Put("/plan", s.handleUpdatePlan)
			r.Post("/start", s.handleStart)
			r.Post("/pause", s.handlePause)
			r.Post("/cancel", s.handleCancel)
			r.Post("/tasks/{taskID}/answers", s.handleSubmitAnswers)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.sessions.List()),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondStoreError maps a session store error onto a status code.
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduler.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, scheduler.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, scheduler.ErrCancelled):
		respondError(w, http.StatusConflict, "cancelled", err.Error())
	case errors.Is(err, scheduler.ErrNotRunning):
		respondError(w, http.StatusConflict, "not_running", err.Error())
	case errors.Is(err, scheduler.ErrAIClient):
		respondError(w, http.StatusBadGateway, "ai_client", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "request_cancelled", err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
