package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/cowork/internal/scheduler"
	"github.com/aristath/cowork/internal/session"
)

type createSessionResponse struct {
	CoworkSessionID string `json:"coworkSessionId"`
}

type generatePlanResponse struct {
	Tasks []scheduler.Task `json:"tasks"`
}

type updatePlanRequest struct {
	Tasks     []scheduler.Task `json:"tasks"`
	TaskOrder []string         `json:"taskOrder"`
}

type answersRequest struct {
	Answers []string `json:"answers"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id, err := s.sessions.CreateSession(r.Context(), req)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, createSessionResponse{CoworkSessionID: id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.sessions.GeneratePlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, generatePlanResponse{Tasks: tasks})
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req updatePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.sessions.UpdatePlan(r.Context(), id, req.Tasks, req.TaskOrder); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Start(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Pause(id); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Cancel(id); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	// A running loop records Cancelled asynchronously.
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSubmitAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id, taskID := chi.URLParam(r, "id"), strings.TrimSpace(chi.URLParam(r, "taskID"))
	if err := s.sessions.SubmitUserInput(id, taskID, req.Answers); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) respondSnapshot(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := s.sessions.Snapshot(id)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}
