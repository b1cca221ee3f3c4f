package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sitegen-backend/internal/middleware"
	"sitegen-backend/internal/models"
	"sitegen-backend/internal/preview"
)

type PreviewRegistry interface {
	Get(id uuid.UUID) (preview.Info, error)
	List() []preview.Info
	Stop(ctx context.Context, id uuid.UUID) error
}

// ProjectHistory is the persisted view. It is optional.
type ProjectHistory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.GeneratedProject, error)
	ListRecent(ctx context.Context, limit int) ([]models.GeneratedProject, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error
}

// EventStream upgrades a request to a live event feed for one project.
type EventStream interface {
	Serve(w http.ResponseWriter, r *http.Request, projectID uuid.UUID)
}

type ProjectHandler struct {
	registry PreviewRegistry
	history  ProjectHistory
	events   EventStream
}

func NewProjectHandler(registry PreviewRegistry, history ProjectHistory, events EventStream) *ProjectHandler {
	return &ProjectHandler{registry: registry, history: history, events: events}
}

// List handles GET /ai/projects. ?history=N returns the N most recent
// persisted projects instead of the running ones.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("history"); raw != "" {
		if h.history == nil {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Project history is not enabled", r))
			return
		}
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "history must be a number", r))
			return
		}
		projects, err := h.history.ListRecent(r.Context(), limit)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if projects == nil {
			projects = []models.GeneratedProject{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
		return
	}

	running := h.registry.List()
	out := make([]models.ProjectStatus, 0, len(running))
	for _, info := range running {
		out = append(out, statusFromInfo(info))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": out})
}

// Get handles GET /ai/projects/{id}.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}

	info, err := h.registry.Get(id)
	if err == nil {
		writeJSON(w, http.StatusOK, statusFromInfo(info))
		return
	}
	if !errors.Is(err, preview.ErrNotFound) || h.history == nil {
		handleServiceError(w, r, err)
		return
	}

	p, err := h.history.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := models.ProjectStatus{ID: p.ID, Status: p.Status, Alive: false}
	if p.URL != nil {
		status.URL = *p.URL
	}
	if p.Port != nil {
		status.Port = *p.Port
	}
	if p.ErrorMessage != nil {
		status.Error = *p.ErrorMessage
	}
	writeJSON(w, http.StatusOK, status)
}

// Stop handles DELETE /ai/projects/{id}.
func (h *ProjectHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}

	if !h.ownedByCaller(r, id) {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Project not found", r))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.registry.Stop(ctx, id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	if h.history != nil {
		if err := h.history.UpdateStatus(r.Context(), id, models.StatusStopped, ""); err != nil {
			log.Warn().Err(err).Str("project_id", id.String()).Msg("Failed to record stop")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Preview server stopped"})
}

// Events handles GET /ai/projects/{id}/events.
func (h *ProjectHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	if h.events == nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Event streaming is not enabled", r))
		return
	}
	h.events.Serve(w, r, id)
}

// ownedByCaller reports whether the authenticated caller may act on the
// project. Anonymous callers, ownerless projects and projects missing from
// history are not restricted.
func (h *ProjectHandler) ownedByCaller(r *http.Request, id uuid.UUID) bool {
	owner := middleware.GetOwner(r.Context())
	if owner == "" || h.history == nil {
		return true
	}
	p, err := h.history.GetByID(r.Context(), id)
	if err != nil {
		return true
	}
	return p.Owner == "" || p.Owner == owner
}

func projectID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid project ID", r))
		return uuid.Nil, false
	}
	return id, true
}

func statusFromInfo(info preview.Info) models.ProjectStatus {
	status := models.StatusRunning
	if !info.Alive {
		status = models.StatusExited
	}
	started := info.StartedAt
	return models.ProjectStatus{
		ID:        info.ID,
		Status:    status,
		URL:       info.URL,
		Port:      info.Port,
		Alive:     info.Alive,
		ExitCode:  info.ExitCode,
		StartedAt: &started,
	}
}
