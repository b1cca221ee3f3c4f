package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sitegen-backend/internal/extract"
	"sitegen-backend/internal/models"
	"sitegen-backend/internal/preview"
	"sitegen-backend/internal/process"
)

// SourceGenerator produces tagged project source for a prompt.
type SourceGenerator interface {
	GenerateProjectSource(ctx context.Context, prompt string) (string, error)
}

// CommandRunner runs a command to completion.
type CommandRunner interface {
	Run(ctx context.Context, c process.Command) (*process.Result, error)
}

// PreviewLauncher starts the dev server for a written project.
type PreviewLauncher interface {
	Launch(ctx context.Context, id uuid.UUID, dir string) (preview.Info, error)
}

// ProjectStore persists project history. Create inserts the record or, when
// the id is already known, moves it to the given status.
type ProjectStore interface {
	Create(ctx context.Context, p *models.GeneratedProject) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error
	SetFiles(ctx context.Context, id uuid.UUID, fileCount, skippedCount int) error
	SetPreview(ctx context.Context, id uuid.UUID, port int, url string) error
}

type ProjectServiceConfig struct {
	Root           string
	InstallCommand string
	InstallTimeout time.Duration
}

type ProjectService struct {
	gen      SourceGenerator
	runner   CommandRunner
	launcher PreviewLauncher
	store    ProjectStore
	events   *EventPublisher
	cfg      ProjectServiceConfig
	newID    func() uuid.UUID
}

// NewProjectService wires the pipeline. store and events may be nil.
func NewProjectService(
	gen SourceGenerator,
	runner CommandRunner,
	launcher PreviewLauncher,
	store ProjectStore,
	events *EventPublisher,
	cfg ProjectServiceConfig,
) *ProjectService {
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = 10 * time.Minute
	}
	return &ProjectService{
		gen:      gen,
		runner:   runner,
		launcher: launcher,
		store:    store,
		events:   events,
		cfg:      cfg,
		newID:    uuid.New,
	}
}

// Scaffold turns a prompt into a running preview: generate, extract, write,
// install, launch. A failed install leaves the directory in place.
func (s *ProjectService) Scaffold(ctx context.Context, prompt, owner string) (*models.ScaffoldResult, error) {
	return s.ScaffoldAs(ctx, s.newID(), prompt, owner)
}

// Enqueue records a project that is waiting for a background worker.
func (s *ProjectService) Enqueue(ctx context.Context, id uuid.UUID, prompt, owner string) error {
	if err := validatePrompt(prompt); err != nil {
		return err
	}
	if err := s.record(ctx, id, prompt, owner, models.StatusQueued); err != nil {
		return fmt.Errorf("failed to record queued project: %w", err)
	}
	s.publish(ctx, id, models.StatusQueued, "Waiting for a worker")
	return nil
}

// Abandon marks a queued project that will never be scaffolded.
func (s *ProjectService) Abandon(ctx context.Context, id uuid.UUID, reason string) {
	s.fail(ctx, id, models.StatusFailed, "Scaffold job dropped", errors.New(reason))
}

// ScaffoldAs runs the pipeline under a caller-chosen project id. Every
// failure after validation is recorded on the project.
func (s *ProjectService) ScaffoldAs(ctx context.Context, id uuid.UUID, prompt, owner string) (*models.ScaffoldResult, error) {
	if err := validatePrompt(prompt); err != nil {
		return nil, err
	}

	logger := log.With().Str("project_id", id.String()).Logger()
	if err := s.record(ctx, id, prompt, owner, models.StatusGenerating); err != nil {
		logger.Error().Err(err).Msg("Failed to persist project")
	}

	// Step 1: generate
	s.publish(ctx, id, models.StatusGenerating, "Generating project source")
	text, err := s.gen.GenerateProjectSource(ctx, prompt)
	if err != nil {
		s.fail(ctx, id, models.StatusFailed, "Generation failed", err)
		return nil, err
	}

	// Step 2: extract
	parsed := extract.Parse(text)
	for _, d := range parsed.Skipped {
		logger.Warn().
			Str("path", d.Path).
			Int("line", d.Line).
			Str("reason", d.Reason).
			Str("detail", d.Detail).
			Msg("Skipped generated file block")
	}
	if len(parsed.Files) == 0 {
		err := &ValidationError{Message: "model returned no usable files"}
		s.fail(ctx, id, models.StatusFailed, "No usable files in model output", err)
		return nil, err
	}

	// Step 3: write
	dir := s.projectDir(id)
	if _, err := os.Stat(dir); err == nil {
		err = fmt.Errorf("project directory %s already exists", dir)
		s.fail(ctx, id, models.StatusFailed, "Project directory already exists", err)
		return nil, err
	} else if !errors.Is(err, os.ErrNotExist) {
		err = fmt.Errorf("failed to check project directory: %w", err)
		s.fail(ctx, id, models.StatusFailed, "Failed to check project directory", err)
		return nil, err
	}

	s.setStatus(ctx, id, models.StatusWriting, "")
	s.publish(ctx, id, models.StatusWriting, fmt.Sprintf("Writing %d files", len(parsed.Files)))
	written, err := extract.Write(dir, parsed.Files)
	if err != nil {
		err = fmt.Errorf("failed to write project: %w", err)
		s.fail(ctx, id, models.StatusFailed, "Failed to write project files", err)
		return nil, err
	}
	logger.Info().Int("files", len(written)).Int("skipped", len(parsed.Skipped)).Str("dir", dir).Msg("Project written")

	if s.store != nil {
		if err := s.store.SetFiles(ctx, id, len(written), len(parsed.Skipped)); err != nil {
			logger.Error().Err(err).Msg("Failed to persist file counts")
		}
	}

	// Step 4: install
	s.setStatus(ctx, id, models.StatusInstalling, "")
	s.publish(ctx, id, models.StatusInstalling, "Installing dependencies")
	if err := s.install(ctx, id, dir); err != nil {
		s.fail(ctx, id, models.StatusInstallFailed, "Dependency install failed", err)
		return nil, err
	}

	// Step 5: launch
	s.setStatus(ctx, id, models.StatusLaunching, "")
	s.publish(ctx, id, models.StatusLaunching, "Starting preview server")
	info, err := s.launcher.Launch(ctx, id, dir)
	if err != nil {
		s.fail(ctx, id, models.StatusFailed, "Preview server failed to start", err)
		return nil, fmt.Errorf("failed to launch preview: %w", err)
	}

	s.setStatus(ctx, id, models.StatusRunning, "")
	if s.store != nil {
		if err := s.store.SetPreview(ctx, id, info.Port, info.URL); err != nil {
			logger.Error().Err(err).Msg("Failed to persist preview address")
		}
	}
	s.events.Publish(ctx, id, models.ProjectEvent{
		Type:    "completed",
		Status:  models.StatusRunning,
		Message: "Preview server started",
		URL:     info.URL,
		Time:    time.Now(),
	})

	return &models.ScaffoldResult{
		ID:      id,
		URL:     info.URL,
		Port:    info.Port,
		Files:   written,
		Skipped: skippedView(parsed.Skipped),
	}, nil
}

func (s *ProjectService) install(ctx context.Context, id uuid.UUID, dir string) error {
	cmd, err := process.ParseCommand(dir, s.cfg.InstallCommand)
	if err != nil {
		return fmt.Errorf("invalid install command %q: %w", s.cfg.InstallCommand, err)
	}

	installCtx, cancel := context.WithTimeout(ctx, s.cfg.InstallTimeout)
	defer cancel()

	res, err := s.runner.Run(installCtx, cmd)
	if err != nil {
		return &InstallError{ProjectID: id.String(), ExitCode: process.ExitCodeOf(err), Err: err}
	}
	log.Info().Str("project_id", id.String()).Dur("duration", res.Duration).Msg("Dependencies installed")
	return nil
}

func (s *ProjectService) projectDir(id uuid.UUID) string {
	return filepath.Join(s.cfg.Root, id.String())
}

func (s *ProjectService) record(ctx context.Context, id uuid.UUID, prompt, owner, status string) error {
	if s.store == nil {
		return nil
	}
	return s.store.Create(ctx, &models.GeneratedProject{
		ID:     id,
		Prompt: prompt,
		Owner:  owner,
		Dir:    s.projectDir(id),
		Status: status,
	})
}

// fail records status with the error and publishes the failure event.
func (s *ProjectService) fail(ctx context.Context, id uuid.UUID, status, message string, err error) {
	// The failure may be the caller's context expiring; record it anyway.
	ctx = context.WithoutCancel(ctx)
	s.setStatus(ctx, id, status, err.Error())
	s.publishFailure(ctx, id, message)
}

func (s *ProjectService) setStatus(ctx context.Context, id uuid.UUID, status, errMsg string) {
	if s.store == nil {
		return
	}
	if err := s.store.UpdateStatus(ctx, id, status, errMsg); err != nil {
		log.Error().Err(err).Str("project_id", id.String()).Str("status", status).Msg("Failed to update project status")
	}
}

func (s *ProjectService) publish(ctx context.Context, id uuid.UUID, status, message string) {
	s.events.Publish(ctx, id, models.ProjectEvent{
		Type:    "status_update",
		Status:  status,
		Message: message,
		Time:    time.Now(),
	})
}

func (s *ProjectService) publishFailure(ctx context.Context, id uuid.UUID, message string) {
	s.events.Publish(ctx, id, models.ProjectEvent{
		Type:    "error",
		Status:  models.StatusFailed,
		Message: message,
		Time:    time.Now(),
	})
}

func skippedView(diags []extract.Diagnostic) []models.SkippedFile {
	out := make([]models.SkippedFile, 0, len(diags))
	for _, d := range diags {
		out = append(out, models.SkippedFile{Path: d.Path, Reason: d.Reason, Detail: d.Detail})
	}
	return out
}
