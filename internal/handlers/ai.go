package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"sitegen-backend/internal/middleware"
	"sitegen-backend/internal/models"
)

type ContentGenerator interface {
	GenerateWebsiteContent(ctx context.Context, prompt string) (string, error)
}

type Scaffolder interface {
	Scaffold(ctx context.Context, prompt, owner string) (*models.ScaffoldResult, error)
}

// ScaffoldQueue runs scaffolds in the background.
type ScaffoldQueue interface {
	Submit(ctx context.Context, prompt, owner string) (uuid.UUID, error)
}

type AIHandler struct {
	content   ContentGenerator
	scaffolds Scaffolder
	queue     ScaffoldQueue
}

// NewAIHandler builds the handler. queue may be nil, which disables
// ?async=true.
func NewAIHandler(content ContentGenerator, scaffolds Scaffolder, queue ScaffoldQueue) *AIHandler {
	return &AIHandler{content: content, scaffolds: scaffolds, queue: queue}
}

// Generate handles POST /ai/generate.
func (h *AIHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", err.Error(), r))
		return
	}

	result, err := h.content.GenerateWebsiteContent(r.Context(), req.Prompt)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.GenerateResponse{Result: result})
}

// Scaffold handles POST /ai/projects. It blocks until the preview server
// has been spawned, unless ?async=true queues the work and returns the
// project id at once.
func (h *AIHandler) Scaffold(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", err.Error(), r))
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, r, req.Prompt)
		return
	}

	res, err := h.scaffolds.Scaffold(r.Context(), req.Prompt, middleware.GetOwner(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *AIHandler) enqueue(w http.ResponseWriter, r *http.Request, prompt string) {
	if h.queue == nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Asynchronous scaffolding is not enabled", r))
		return
	}
	if strings.TrimSpace(prompt) == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "prompt: prompt is required",
			map[string]string{"prompt": "prompt is required"}, r))
		return
	}

	id, err := h.queue.Submit(r.Context(), prompt, middleware.GetOwner(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, models.QueuedScaffold{ID: id, Status: models.StatusQueued})
}
