package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitegen-backend/internal/models"
)

const defaultMemoryLimit = 500

// MemoryProjectRepo keeps project history in process when no database is
// configured. The oldest projects are dropped past the limit.
type MemoryProjectRepo struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]*models.GeneratedProject
	order    []uuid.UUID
	limit    int
	now      func() time.Time
}

func NewMemoryProjectRepo(limit int) *MemoryProjectRepo {
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	return &MemoryProjectRepo{
		projects: make(map[uuid.UUID]*models.GeneratedProject),
		limit:    limit,
		now:      time.Now,
	}
}

// Create inserts a project. A known id only moves to the new status.
func (r *MemoryProjectRepo) Create(ctx context.Context, p *models.GeneratedProject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.projects[p.ID]; ok {
		existing.Status = p.Status
		existing.ErrorMessage = nil
		existing.UpdatedAt = now
		p.CreatedAt, p.UpdatedAt = existing.CreatedAt, now
		return nil
	}

	stored := *p
	stored.CreatedAt, stored.UpdatedAt = now, now
	p.CreatedAt, p.UpdatedAt = now, now
	r.projects[p.ID] = &stored
	r.order = append(r.order, p.ID)

	for len(r.order) > r.limit {
		delete(r.projects, r.order[0])
		r.order = r.order[1:]
	}
	return nil
}

// UpdateStatus sets the status. An empty errMsg clears the stored error.
func (r *MemoryProjectRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error {
	return r.update(id, func(p *models.GeneratedProject) {
		p.Status = status
		p.ErrorMessage = nil
		if errMsg != "" {
			p.ErrorMessage = &errMsg
		}
	})
}

func (r *MemoryProjectRepo) SetFiles(ctx context.Context, id uuid.UUID, fileCount, skippedCount int) error {
	return r.update(id, func(p *models.GeneratedProject) {
		p.FileCount, p.SkippedCount = fileCount, skippedCount
	})
}

func (r *MemoryProjectRepo) SetPreview(ctx context.Context, id uuid.UUID, port int, url string) error {
	return r.update(id, func(p *models.GeneratedProject) {
		p.Port, p.URL = &port, &url
	})
}

func (r *MemoryProjectRepo) update(id uuid.UUID, fn func(*models.GeneratedProject)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok {
		return ErrNotFound
	}
	fn(p)
	p.UpdatedAt = r.now()
	return nil
}

func (r *MemoryProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.GeneratedProject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryProjectRepo) ListRecent(ctx context.Context, limit int) ([]models.GeneratedProject, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	projects := make([]models.GeneratedProject, 0, limit)
	for i := len(r.order) - 1; i >= 0 && len(projects) < limit; i-- {
		projects = append(projects, *r.projects[r.order[i]])
	}
	return projects, nil
}
