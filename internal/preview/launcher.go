package preview

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sitegen-backend/internal/ports"
	"sitegen-backend/internal/process"
)

type LauncherConfig struct {
	// Command is the dev-server command line. {port} and {host} are
	// substituted before it is split into argv.
	Command  string
	Host     string
	BasePort int
}

// StartFunc spawns a long-lived process.
type StartFunc func(process.Command) (Process, error)

// Launcher spawns dev servers for generated projects and registers them.
type Launcher struct {
	registry *Registry
	cfg      LauncherConfig
	start    StartFunc
	allocate func(preferred int) (int, error)
	now      func() time.Time
}

func NewLauncher(registry *Registry, runner *process.Runner, cfg LauncherConfig) *Launcher {
	return NewLauncherWithStart(registry, cfg, func(c process.Command) (Process, error) {
		h, err := runner.Start(c)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}

func NewLauncherWithStart(registry *Registry, cfg LauncherConfig, start StartFunc) *Launcher {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	return &Launcher{
		registry: registry,
		cfg:      cfg,
		start:    start,
		allocate: ports.Allocate,
		now:      time.Now,
	}
}

// Launch starts the dev server for the project in dir and returns as soon as
// the process is spawned. It does not wait for the server to accept
// connections.
func (l *Launcher) Launch(ctx context.Context, id uuid.UUID, dir string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	port, err := l.registry.ReservePort(l.cfg.BasePort, l.allocate)
	if errors.Is(err, ErrCapacity) {
		return Info{}, err
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to allocate preview port: %w", err)
	}

	line := expandCommand(l.cfg.Command, port, l.cfg.Host)
	cmd, err := process.ParseCommand(dir, line, "PORT="+strconv.Itoa(port), "BROWSER=none")
	if err != nil {
		l.registry.ReleasePort(port)
		return Info{}, fmt.Errorf("invalid dev command %q: %w", l.cfg.Command, err)
	}

	proc, err := l.start(cmd)
	if err != nil {
		l.registry.ReleasePort(port)
		return Info{}, fmt.Errorf("failed to start preview server: %w", err)
	}

	rec := &Record{
		ID:        id,
		Dir:       dir,
		URL:       fmt.Sprintf("http://%s:%d", l.cfg.Host, port),
		Port:      port,
		StartedAt: l.now(),
		Proc:      proc,
	}

	if err := l.registry.Add(rec); err != nil {
		l.registry.ReleasePort(port)
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		proc.Stop(stopCtx, time.Second)
		return Info{}, err
	}

	log.Info().
		Str("project_id", id.String()).
		Int("port", port).
		Int("pid", proc.PID()).
		Str("cmd", cmd.String()).
		Msg("Preview server spawned")

	go func() {
		<-proc.Done()
		code, _ := proc.ExitCode()
		log.Info().Str("project_id", id.String()).Int("exit_code", code).Msg("Preview server exited")
	}()

	return rec.info(), nil
}

func expandCommand(line string, port int, host string) string {
	return strings.NewReplacer("{port}", strconv.Itoa(port), "{host}", host).Replace(line)
}
