package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sitegen-backend/internal/models"
)

var (
	ErrQueueFull = errors.New("scaffold queue is full")
	ErrStopped   = errors.New("worker pool stopped")
)

// Scaffolder runs the pipeline for a caller-chosen project id. Enqueue
// records the project before it waits for a worker and Abandon marks one
// that will never run.
type Scaffolder interface {
	Enqueue(ctx context.Context, id uuid.UUID, prompt, owner string) error
	Abandon(ctx context.Context, id uuid.UUID, reason string)
	ScaffoldAs(ctx context.Context, id uuid.UUID, prompt, owner string) (*models.ScaffoldResult, error)
}

type Job struct {
	ID       uuid.UUID
	Prompt   string
	Owner    string
	Enqueued time.Time
}

// Pool runs queued scaffolds in the background so callers can follow them
// on the event stream.
type Pool struct {
	scaffolder  Scaffolder
	jobs        chan Job
	workerCount int
	jobTimeout  time.Duration

	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(scaffolder Scaffolder, workerCount, queueSize int, jobTimeout time.Duration) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = workerCount
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		scaffolder:  scaffolder,
		jobs:        make(chan Job, queueSize),
		workerCount: workerCount,
		jobTimeout:  jobTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Info().Int("workers", p.workerCount).Msg("Started scaffold workers")
}

// Stop rejects new jobs, cancels running ones and waits for workers to exit.
// Jobs still queued are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Submit records and queues a scaffold and returns its project id without
// waiting. Nothing is recorded when the queue is full.
func (p *Pool) Submit(ctx context.Context, prompt, owner string) (uuid.UUID, error) {
	// Submit is the only sender and holds the write lock, so a free slot
	// checked here is still free at the send below.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return uuid.Nil, ErrStopped
	}
	if len(p.jobs) >= cap(p.jobs) {
		return uuid.Nil, ErrQueueFull
	}

	job := Job{ID: uuid.New(), Prompt: prompt, Owner: owner, Enqueued: time.Now()}
	if err := p.scaffolder.Enqueue(ctx, job.ID, prompt, owner); err != nil {
		return uuid.Nil, err
	}
	p.jobs <- job
	return job.ID, nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		if p.ctx.Err() != nil {
			p.abandon(job)
			continue
		}
		p.process(id, job)
	}
	log.Debug().Int("worker", id).Msg("Scaffold worker shutting down")
}

func (p *Pool) abandon(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.scaffolder.Abandon(ctx, job.ID, "server shutting down")
	log.Warn().Str("project_id", job.ID.String()).Msg("Dropped queued scaffold job")
}

func (p *Pool) process(workerID int, job Job) {
	ctx := p.ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	logger := log.With().Int("worker", workerID).Str("project_id", job.ID.String()).Logger()
	logger.Info().Dur("queued_for", time.Since(job.Enqueued)).Msg("Processing scaffold job")

	res, err := p.scaffolder.ScaffoldAs(ctx, job.ID, job.Prompt, job.Owner)
	if err != nil {
		logger.Error().Err(err).Msg("Scaffold job failed")
		return
	}
	logger.Info().Str("url", res.URL).Int("files", len(res.Files)).Msg("Scaffold job completed")
}
