package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sitegen-backend/internal/models"
)

var ErrNotFound = errors.New("project not found")

type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

// Create inserts a project. A known id only moves to the new status.
func (r *ProjectRepo) Create(ctx context.Context, p *models.GeneratedProject) error {
	query := `INSERT INTO generated_projects (id, prompt, owner, dir, status, file_count, skipped_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, error_message = NULL, updated_at = NOW()
		RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		p.ID, p.Prompt, p.Owner, p.Dir, p.Status, p.FileCount, p.SkippedCount,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// UpdateStatus sets the status. An empty errMsg clears the stored error.
func (r *ProjectRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error {
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	_, err := r.pool.Exec(ctx,
		"UPDATE generated_projects SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3",
		status, msg, id,
	)
	return err
}

func (r *ProjectRepo) SetFiles(ctx context.Context, id uuid.UUID, fileCount, skippedCount int) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE generated_projects SET file_count = $1, skipped_count = $2, updated_at = NOW() WHERE id = $3",
		fileCount, skippedCount, id,
	)
	return err
}

func (r *ProjectRepo) SetPreview(ctx context.Context, id uuid.UUID, port int, url string) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE generated_projects SET port = $1, url = $2, updated_at = NOW() WHERE id = $3",
		port, url, id,
	)
	return err
}

const projectColumns = `id, prompt, owner, dir, status, file_count, skipped_count, port, url, error_message, created_at, updated_at`

func (r *ProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.GeneratedProject, error) {
	return getProject(r.pool.QueryRow(ctx, "SELECT "+projectColumns+" FROM generated_projects WHERE id = $1", id))
}

func (r *ProjectRepo) ListRecent(ctx context.Context, limit int) ([]models.GeneratedProject, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx,
		"SELECT "+projectColumns+" FROM generated_projects ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []models.GeneratedProject
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// getProject scans a single-row lookup, mapping a missing row to ErrNotFound.
func getProject(row pgx.Row) (*models.GeneratedProject, error) {
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanProject(row pgx.Row) (*models.GeneratedProject, error) {
	p := &models.GeneratedProject{}
	err := row.Scan(
		&p.ID, &p.Prompt, &p.Owner, &p.Dir, &p.Status, &p.FileCount, &p.SkippedCount,
		&p.Port, &p.URL, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
