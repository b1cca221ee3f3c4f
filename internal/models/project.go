package models

import (
	"time"

	"github.com/google/uuid"
)

// Project lifecycle statuses.
const (
	StatusQueued        = "queued"
	StatusGenerating    = "generating"
	StatusWriting       = "writing"
	StatusInstalling    = "installing"
	StatusLaunching     = "launching"
	StatusRunning       = "running"
	StatusInstallFailed = "install_failed"
	StatusFailed        = "failed"
	StatusStopped       = "stopped"
	StatusExited        = "exited"
)

// GeneratedProject is the persisted record of one scaffolding request.
type GeneratedProject struct {
	ID           uuid.UUID `json:"id"`
	Prompt       string    `json:"prompt"`
	Owner        string    `json:"owner,omitempty"`
	Dir          string    `json:"-"`
	Status       string    `json:"status"`
	FileCount    int       `json:"file_count"`
	SkippedCount int       `json:"skipped_count"`
	Port         *int      `json:"port"`
	URL          *string   `json:"url"`
	ErrorMessage *string   `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse is returned by the content-generation variant.
type GenerateResponse struct {
	Result string `json:"result"`
}

type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// ScaffoldResult is returned by the project-scaffolding variant.
type ScaffoldResult struct {
	ID      uuid.UUID     `json:"id"`
	URL     string        `json:"url"`
	Port    int           `json:"port"`
	Files   []string      `json:"files"`
	Skipped []SkippedFile `json:"skipped"`
}

// QueuedScaffold is returned when scaffolding runs in the background.
type QueuedScaffold struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// ProjectStatus merges the live registry view with the persisted record.
type ProjectStatus struct {
	ID        uuid.UUID  `json:"id"`
	Status    string     `json:"status"`
	URL       string     `json:"url,omitempty"`
	Port      int        `json:"port,omitempty"`
	Alive     bool       `json:"alive"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Error     string     `json:"error_message,omitempty"`
}

// Event message types
type ProjectEvent struct {
	Type      string    `json:"type"` // "status_update" | "completed" | "error"
	ProjectID uuid.UUID `json:"project_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	URL       string    `json:"url,omitempty"`
	Time      time.Time `json:"time"`
}
