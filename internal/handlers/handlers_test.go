package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sitegen-backend/internal/middleware"
	"sitegen-backend/internal/models"
	"sitegen-backend/internal/preview"
	"sitegen-backend/internal/process"
	"sitegen-backend/internal/repository"
	"sitegen-backend/internal/services"
	"sitegen-backend/internal/worker"
)

// ─── Stubs ───

type stubContent struct {
	result string
	err    error
	calls  int
}

func (s *stubContent) GenerateWebsiteContent(ctx context.Context, prompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", &services.ValidationError{Field: "prompt", Message: "prompt is required"}
	}
	return s.result, nil
}

type stubScaffolder struct {
	res       *models.ScaffoldResult
	err       error
	lastOwner string
}

func (s *stubScaffolder) Scaffold(ctx context.Context, prompt, owner string) (*models.ScaffoldResult, error) {
	s.lastOwner = owner
	return s.res, s.err
}

type stubRegistry struct {
	infos   map[uuid.UUID]preview.Info
	stopped []uuid.UUID
}

func (s *stubRegistry) Get(id uuid.UUID) (preview.Info, error) {
	info, ok := s.infos[id]
	if !ok {
		return preview.Info{}, preview.ErrNotFound
	}
	return info, nil
}

func (s *stubRegistry) List() []preview.Info {
	out := make([]preview.Info, 0, len(s.infos))
	for _, info := range s.infos {
		out = append(out, info)
	}
	return out
}

func (s *stubRegistry) Stop(ctx context.Context, id uuid.UUID) error {
	if _, ok := s.infos[id]; !ok {
		return preview.ErrNotFound
	}
	delete(s.infos, id)
	s.stopped = append(s.stopped, id)
	return nil
}

type stubHistory struct {
	projects map[uuid.UUID]*models.GeneratedProject
	statuses map[uuid.UUID]string
}

func (s *stubHistory) GetByID(ctx context.Context, id uuid.UUID) (*models.GeneratedProject, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *stubHistory) ListRecent(ctx context.Context, limit int) ([]models.GeneratedProject, error) {
	var out []models.GeneratedProject
	for _, p := range s.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (s *stubHistory) UpdateStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error {
	if s.statuses == nil {
		s.statuses = map[uuid.UUID]string{}
	}
	s.statuses[id] = status
	return nil
}

type stubQueue struct {
	id      uuid.UUID
	err     error
	prompts []string
}

func (s *stubQueue) Submit(ctx context.Context, prompt, owner string) (uuid.UUID, error) {
	s.prompts = append(s.prompts, prompt)
	return s.id, s.err
}

func withID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var body models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

// ─── AI Handler Tests ───

func TestGenerate_ReturnsResult(t *testing.T) {
	h := NewAIHandler(&stubContent{result: "Hero: Welcome"}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/ai/generate", strings.NewReader(`{"prompt":"test"}`))
	rr := httptest.NewRecorder()
	h.Generate(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp models.GenerateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if resp.Result != "Hero: Welcome" {
		t.Fatalf("unexpected result %q", resp.Result)
	}
}

func TestGenerate_BadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "prompt=test"},
		{"unknown field", `{"prompt":"x","model":"gpt"}`},
		{"two objects", `{"prompt":"x"}{"prompt":"y"}`},
		{"too large", `{"prompt":"` + strings.Repeat("a", maxBodyBytes) + `"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			content := &stubContent{result: "x"}
			h := NewAIHandler(content, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/ai/generate", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			h.Generate(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if decodeError(t, rr).Code != "VALIDATION_ERROR" {
				t.Fatalf("expected VALIDATION_ERROR")
			}
			if content.calls != 0 {
				t.Fatalf("expected no generation call")
			}
		})
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	h := NewAIHandler(&stubContent{result: "x"}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/ai/generate", strings.NewReader(`{"prompt":"  "}`))
	rr := httptest.NewRecorder()
	h.Generate(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if f := decodeError(t, rr).Fields["prompt"]; f == "" {
		t.Fatalf("expected prompt field error")
	}
}

func TestGenerate_ModelFailureHidesDetail(t *testing.T) {
	err := fmt.Errorf("%w: %v", services.ErrModel, errors.New("api key AIza-secret rejected"))
	h := NewAIHandler(&stubContent{err: err}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/ai/generate", strings.NewReader(`{"prompt":"test"}`))
	req.Header.Set(middleware.RequestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	h.Generate(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	apiErr := decodeError(t, rr)
	if apiErr.Code != "AI_ERROR" || strings.Contains(apiErr.Message, "secret") {
		t.Fatalf("unexpected error body: %+v", apiErr)
	}
	if apiErr.RequestID != "req-1" {
		t.Fatalf("expected request id echoed, got %q", apiErr.RequestID)
	}
}

func TestScaffold_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no files", &services.ValidationError{Message: "model returned no usable files"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"capacity", fmt.Errorf("failed to launch preview: %w", preview.ErrCapacity), http.StatusServiceUnavailable, "CAPACITY_EXCEEDED"},
		{"install", &services.InstallError{ProjectID: "p", ExitCode: 254, Err: &process.ExitError{ExitCode: 254}}, http.StatusInternalServerError, "INSTALL_FAILED"},
		{"model", services.ErrModel, http.StatusBadGateway, "AI_ERROR"},
		{"other", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAIHandler(nil, &stubScaffolder{err: tc.err}, nil)

			req := httptest.NewRequest(http.MethodPost, "/ai/projects", strings.NewReader(`{"prompt":"site"}`))
			rr := httptest.NewRecorder()
			h.Scaffold(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			apiErr := decodeError(t, rr)
			if apiErr.Code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, apiErr.Code)
			}
			if tc.code == "INSTALL_FAILED" && !strings.Contains(apiErr.Message, "254") {
				t.Fatalf("expected exit code in message, got %q", apiErr.Message)
			}
		})
	}
}

func TestScaffold_PassesOwnerAndReturnsCreated(t *testing.T) {
	id := uuid.New()
	scaffolder := &stubScaffolder{res: &models.ScaffoldResult{
		ID:      id,
		URL:     "http://localhost:5173",
		Port:    5173,
		Files:   []string{"package.json"},
		Skipped: []models.SkippedFile{},
	}}
	h := NewAIHandler(nil, scaffolder, nil)

	auth := middleware.NewJWTAuth("secret")
	token, _ := auth.GenerateToken("owner-7", time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/ai/projects", bytes.NewReader([]byte(`{"prompt":"site"}`)))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	auth.Middleware(http.HandlerFunc(h.Scaffold)).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if scaffolder.lastOwner != "owner-7" {
		t.Fatalf("expected owner-7, got %q", scaffolder.lastOwner)
	}
	var res models.ScaffoldResult
	json.Unmarshal(rr.Body.Bytes(), &res)
	if res.ID != id || res.Port != 5173 {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestScaffold_Async(t *testing.T) {
	id := uuid.New()
	queue := &stubQueue{id: id}
	scaffolder := &stubScaffolder{}
	h := NewAIHandler(nil, scaffolder, queue)

	req := httptest.NewRequest(http.MethodPost, "/ai/projects?async=true", strings.NewReader(`{"prompt":"site"}`))
	rr := httptest.NewRecorder()
	h.Scaffold(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var got models.QueuedScaffold
	json.Unmarshal(rr.Body.Bytes(), &got)
	if got.ID != id || got.Status != models.StatusQueued {
		t.Fatalf("unexpected response: %+v", got)
	}
	if len(queue.prompts) != 1 || queue.prompts[0] != "site" {
		t.Fatalf("expected prompt queued, got %v", queue.prompts)
	}
}

func TestScaffold_AsyncErrors(t *testing.T) {
	tests := []struct {
		name   string
		queue  ScaffoldQueue
		body   string
		status int
	}{
		{"disabled", nil, `{"prompt":"site"}`, http.StatusBadRequest},
		{"empty prompt", &stubQueue{}, `{"prompt":" "}`, http.StatusBadRequest},
		{"queue full", &stubQueue{err: worker.ErrQueueFull}, `{"prompt":"site"}`, http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAIHandler(nil, &stubScaffolder{}, tc.queue)

			req := httptest.NewRequest(http.MethodPost, "/ai/projects?async=true", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			h.Scaffold(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

// ─── Project Handler Tests ───

func TestProjectHandler_GetRunningAndExited(t *testing.T) {
	running := uuid.New()
	exited := uuid.New()
	code := 1
	reg := &stubRegistry{infos: map[uuid.UUID]preview.Info{
		running: {ID: running, URL: "http://localhost:5173", Port: 5173, Alive: true, StartedAt: time.Now()},
		exited:  {ID: exited, URL: "http://localhost:5174", Port: 5174, Alive: false, ExitCode: &code, StartedAt: time.Now()},
	}}
	h := NewProjectHandler(reg, nil, nil)

	tests := []struct {
		id     uuid.UUID
		alive  bool
		status string
	}{
		{running, true, models.StatusRunning},
		{exited, false, models.StatusExited},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		h.Get(rr, withID(httptest.NewRequest(http.MethodGet, "/ai/projects/x", nil), tc.id.String()))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var got models.ProjectStatus
		json.Unmarshal(rr.Body.Bytes(), &got)
		if got.Alive != tc.alive || got.Status != tc.status {
			t.Fatalf("unexpected status: %+v", got)
		}
	}
}

func TestProjectHandler_GetFallsBackToHistory(t *testing.T) {
	id := uuid.New()
	url := "http://localhost:5180"
	history := &stubHistory{projects: map[uuid.UUID]*models.GeneratedProject{
		id: {ID: id, Status: models.StatusStopped, URL: &url},
	}}
	h := NewProjectHandler(&stubRegistry{infos: map[uuid.UUID]preview.Info{}}, history, nil)

	rr := httptest.NewRecorder()
	h.Get(rr, withID(httptest.NewRequest(http.MethodGet, "/ai/projects/x", nil), id.String()))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got models.ProjectStatus
	json.Unmarshal(rr.Body.Bytes(), &got)
	if got.Alive || got.Status != models.StatusStopped || got.URL != url {
		t.Fatalf("unexpected status: %+v", got)
	}

	rr = httptest.NewRecorder()
	h.Get(rr, withID(httptest.NewRequest(http.MethodGet, "/ai/projects/x", nil), uuid.NewString()))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestProjectHandler_InvalidID(t *testing.T) {
	h := NewProjectHandler(&stubRegistry{}, nil, nil)

	rr := httptest.NewRecorder()
	h.Get(rr, withID(httptest.NewRequest(http.MethodGet, "/ai/projects/nope", nil), "nope"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestProjectHandler_Stop(t *testing.T) {
	id := uuid.New()
	reg := &stubRegistry{infos: map[uuid.UUID]preview.Info{id: {ID: id, Alive: true}}}
	history := &stubHistory{}
	h := NewProjectHandler(reg, history, nil)

	rr := httptest.NewRecorder()
	h.Stop(rr, withID(httptest.NewRequest(http.MethodDelete, "/ai/projects/x", nil), id.String()))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(reg.stopped) != 1 || history.statuses[id] != models.StatusStopped {
		t.Fatalf("expected stop recorded")
	}

	rr = httptest.NewRecorder()
	h.Stop(rr, withID(httptest.NewRequest(http.MethodDelete, "/ai/projects/x", nil), id.String()))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second stop, got %d", rr.Code)
	}
}

func TestProjectHandler_List(t *testing.T) {
	id := uuid.New()
	reg := &stubRegistry{infos: map[uuid.UUID]preview.Info{id: {ID: id, Port: 5173, Alive: true}}}
	h := NewProjectHandler(reg, nil, nil)

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/ai/projects", nil))
	var body struct {
		Projects []models.ProjectStatus `json:"projects"`
	}
	json.Unmarshal(rr.Body.Bytes(), &body)
	if len(body.Projects) != 1 || body.Projects[0].ID != id {
		t.Fatalf("unexpected list: %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/ai/projects?history=5", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without history, got %d", rr.Code)
	}
}

func TestProjectHandler_EventsDisabled(t *testing.T) {
	h := NewProjectHandler(&stubRegistry{}, nil, nil)

	rr := httptest.NewRecorder()
	h.Events(rr, withID(httptest.NewRequest(http.MethodGet, "/ai/projects/x/events", nil), uuid.NewString()))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

type failingSource struct{ err error }

func (f failingSource) GenerateProjectSource(ctx context.Context, prompt string) (string, error) {
	return "", f.err
}

func TestProjectHandler_FailedBackgroundJobIsVisible(t *testing.T) {
	repo := repository.NewMemoryProjectRepo(0)
	svc := services.NewProjectService(failingSource{err: errors.New("model unavailable")}, nil, nil, repo, nil,
		services.ProjectServiceConfig{Root: t.TempDir(), InstallCommand: "npm install"})

	id := uuid.New()
	if err := svc.Enqueue(context.Background(), id, "a portfolio", "user-1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	h := NewProjectHandler(&stubRegistry{infos: map[uuid.UUID]preview.Info{}}, repo, nil)
	get := func() models.ProjectStatus {
		rr := httptest.NewRecorder()
		h.Get(rr, withID(httptest.NewRequest(http.MethodGet, "/ai/projects/x", nil), id.String()))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var got models.ProjectStatus
		json.Unmarshal(rr.Body.Bytes(), &got)
		return got
	}

	if got := get(); got.Status != models.StatusQueued {
		t.Fatalf("expected queued before the worker runs, got %+v", got)
	}

	if _, err := svc.ScaffoldAs(context.Background(), id, "a portfolio", "user-1"); err == nil {
		t.Fatalf("expected generation failure")
	}

	got := get()
	if got.Status != models.StatusFailed || !strings.Contains(got.Error, "model unavailable") {
		t.Fatalf("expected failed status with reason, got %+v", got)
	}
}

func TestProjectHandler_StopRequiresOwner(t *testing.T) {
	id := uuid.New()
	reg := &stubRegistry{infos: map[uuid.UUID]preview.Info{id: {ID: id, Alive: true}}}
	history := &stubHistory{projects: map[uuid.UUID]*models.GeneratedProject{
		id: {ID: id, Owner: "alice", Status: models.StatusRunning},
	}}
	h := NewProjectHandler(reg, history, nil)

	stopAs := func(owner string) int {
		req := withID(httptest.NewRequest(http.MethodDelete, "/ai/projects/x", nil), id.String())
		if owner != "" {
			req = req.WithContext(context.WithValue(req.Context(), middleware.OwnerKey, owner))
		}
		rr := httptest.NewRecorder()
		h.Stop(rr, req)
		return rr.Code
	}

	if code := stopAs("mallory"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for another owner, got %d", code)
	}
	if len(reg.stopped) != 0 {
		t.Fatalf("expected preview left running")
	}
	if code := stopAs("alice"); code != http.StatusOK {
		t.Fatalf("expected owner to stop the preview, got %d", code)
	}
}
