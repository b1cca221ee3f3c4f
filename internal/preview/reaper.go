package preview

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Reaper periodically sweeps the registry on a cron schedule.
type Reaper struct {
	cron     *cron.Cron
	registry *Registry
}

func NewReaper(registry *Registry, schedule string) (*Reaper, error) {
	r := &Reaper{
		cron:     cron.New(),
		registry: registry,
	}
	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reaper) Start() {
	r.cron.Start()
	log.Info().Msg("Preview reaper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report := r.registry.Reap(ctx, time.Now())
	if report.Removed > 0 || report.Expired > 0 {
		log.Info().
			Int("removed", report.Removed).
			Int("expired", report.Expired).
			Msg("Reaped preview servers")
	}
}
