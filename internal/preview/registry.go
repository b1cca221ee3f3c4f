package preview

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound  = errors.New("preview not found")
	ErrCapacity  = errors.New("preview capacity reached")
	ErrDuplicate = errors.New("preview already registered")
	ErrNoPort    = errors.New("no free preview port")
)

const maxPortAttempts = 64

// Process is the part of a spawned child the registry needs.
// *process.Handle satisfies it.
type Process interface {
	PID() int
	Done() <-chan struct{}
	Running() bool
	ExitCode() (int, bool)
	Stop(ctx context.Context, grace time.Duration) error
}

// Record is a running project: its identifier, preview URL, allocated port
// and child process handle.
type Record struct {
	ID        uuid.UUID
	Dir       string
	URL       string
	Port      int
	StartedAt time.Time
	Proc      Process
}

// Info is a point-in-time view of a Record.
type Info struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	Alive     bool      `json:"alive"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

func (r *Record) info() Info {
	in := Info{
		ID:        r.ID,
		URL:       r.URL,
		Port:      r.Port,
		StartedAt: r.StartedAt,
	}
	if r.Proc != nil {
		in.PID = r.Proc.PID()
		in.Alive = r.Proc.Running()
		if code, exited := r.Proc.ExitCode(); exited {
			in.ExitCode = &code
		}
	}
	return in
}

// ReapReport summarizes one Reap pass.
type ReapReport struct {
	Removed int
	Expired int
}

// Registry owns every preview process spawned by the service. Records are
// removed on Stop, on expiry, or by Reap once their process has exited.
type Registry struct {
	mu       sync.RWMutex
	records  map[uuid.UUID]*Record
	reserved map[int]struct{}

	maxRunning int
	ttl        time.Duration
	grace      time.Duration
}

// NewRegistry creates a registry. maxRunning <= 0 means unlimited and
// ttl <= 0 disables expiry.
func NewRegistry(maxRunning int, ttl, grace time.Duration) *Registry {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Registry{
		records:    make(map[uuid.UUID]*Record),
		reserved:   make(map[int]struct{}),
		maxRunning: maxRunning,
		ttl:        ttl,
		grace:      grace,
	}
}

func (r *Registry) Add(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return ErrDuplicate
	}
	_, held := r.reserved[rec.Port]
	running := r.runningLocked()
	if held {
		running--
	}
	if r.maxRunning > 0 && running >= r.maxRunning {
		return ErrCapacity
	}
	delete(r.reserved, rec.Port)
	r.records[rec.ID] = rec
	return nil
}

// ReservePort picks a port for a new preview and holds it until Add or
// ReleasePort. Ports held by live records or other reservations are skipped;
// a freshly spawned server may not have bound its port yet. A reservation
// counts against capacity.
func (r *Registry) ReservePort(preferred int, allocate func(int) (int, error)) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxRunning > 0 && r.runningLocked() >= r.maxRunning {
		return 0, ErrCapacity
	}

	candidate := preferred
	for attempt := 0; attempt < maxPortAttempts; attempt++ {
		port, err := allocate(candidate)
		if err != nil {
			return 0, err
		}
		if !r.portHeldLocked(port) {
			r.reserved[port] = struct{}{}
			return port, nil
		}
		candidate = port + 1
	}
	return 0, ErrNoPort
}

// ReleasePort drops a reservation that never became a record.
func (r *Registry) ReleasePort(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, port)
}

func (r *Registry) portHeldLocked(port int) bool {
	if _, ok := r.reserved[port]; ok {
		return true
	}
	for _, rec := range r.records {
		if rec.Port == port && (rec.Proc == nil || rec.Proc.Running()) {
			return true
		}
	}
	return false
}

// HasCapacity reports whether another preview may be started right now.
func (r *Registry) HasCapacity() bool {
	if r.maxRunning <= 0 {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runningLocked() < r.maxRunning
}

func (r *Registry) runningLocked() int {
	n := len(r.reserved)
	for _, rec := range r.records {
		if rec.Proc != nil && rec.Proc.Running() {
			n++
		}
	}
	return n
}

func (r *Registry) Get(id uuid.UUID) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	return rec.info(), nil
}

// List returns all records, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *Registry) IsAlive(id uuid.UUID) (bool, error) {
	info, err := r.Get(id)
	if err != nil {
		return false, err
	}
	return info.Alive, nil
}

// Stop terminates a preview and forgets it.
func (r *Registry) Stop(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if ok {
		delete(r.records, id)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return r.stopRecord(ctx, rec)
}

// StopAll terminates every registered preview in parallel.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	recs := make([]*Record, 0, len(r.records))
	for id, rec := range r.records {
		recs = append(recs, rec)
		delete(r.records, id)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range recs {
		g.Go(func() error {
			return r.stopRecord(gctx, rec)
		})
	}
	return g.Wait()
}

// Reap drops records whose process has exited and stops those older than
// the TTL.
func (r *Registry) Reap(ctx context.Context, now time.Time) ReapReport {
	var report ReapReport
	var expired []*Record

	r.mu.Lock()
	for id, rec := range r.records {
		switch {
		case rec.Proc == nil || !rec.Proc.Running():
			delete(r.records, id)
			report.Removed++
		case r.ttl > 0 && now.Sub(rec.StartedAt) > r.ttl:
			delete(r.records, id)
			expired = append(expired, rec)
		}
	}
	r.mu.Unlock()

	for _, rec := range expired {
		if err := r.stopRecord(ctx, rec); err != nil {
			log.Warn().Err(err).Str("project_id", rec.ID.String()).Msg("Failed to stop expired preview")
		}
		report.Expired++
	}

	return report
}

func (r *Registry) stopRecord(ctx context.Context, rec *Record) error {
	if rec.Proc == nil {
		return nil
	}
	if err := rec.Proc.Stop(ctx, r.grace); err != nil {
		return err
	}
	log.Info().Str("project_id", rec.ID.String()).Int("port", rec.Port).Msg("Preview server stopped")
	return nil
}
