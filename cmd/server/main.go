package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"sitegen-backend/internal/config"
	"sitegen-backend/internal/database"
	"sitegen-backend/internal/handlers"
	"sitegen-backend/internal/middleware"
	"sitegen-backend/internal/ports"
	"sitegen-backend/internal/preview"
	"sitegen-backend/internal/process"
	"sitegen-backend/internal/repository"
	"sitegen-backend/internal/router"
	"sitegen-backend/internal/services"
	"sitegen-backend/internal/websocket"
	"sitegen-backend/internal/worker"
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	setupLogger(cfg)
	log.Info().Str("env", cfg.Env).Msg("🚀 Starting site generator backend")
	log.Info().Msg("✓ Environment variables loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: PostgreSQL (optional) ────
	var store services.ProjectStore
	var history handlers.ProjectHistory
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("✗ PostgreSQL connection failed")
		}
		defer pool.Close()
		log.Info().Msg("✓ PostgreSQL connected")

		if err := database.RunMigrations(ctx, pool, "migrations"); err != nil {
			log.Fatal().Err(err).Msg("✗ Database migration failed")
		}
		log.Info().Msg("✓ Database migrations applied")

		projectRepo := repository.NewProjectRepo(pool)
		store = projectRepo
		history = projectRepo
	} else {
		memoryRepo := repository.NewMemoryProjectRepo(0)
		store = memoryRepo
		history = memoryRepo
		log.Info().Msg("- PostgreSQL disabled (DATABASE_URL not set), keeping project history in memory")
	}

	// ──── Step 3: Redis (optional) ────
	var redisClients *database.RedisClients
	if cfg.RedisURL != "" {
		var err error
		redisClients, err = database.NewRedisClients(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("✗ Redis connection failed")
		}
		defer redisClients.Close()
		log.Info().Msg("✓ Redis connected")
	} else {
		log.Info().Msg("- Redis disabled (REDIS_URL not set)")
	}

	// ──── Step 4: Initialize Gemini Client ────
	gemini, err := services.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs)
	if err != nil {
		log.Fatal().Err(err).Msg("✗ Gemini client initialization failed")
	}
	defer gemini.Close()
	log.Info().Str("model", cfg.GeminiModel).Msg("✓ Gemini client initialized")

	// ──── Step 5: Project pipeline ────
	if err := os.MkdirAll(cfg.GeneratedSitesDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.GeneratedSitesDir).Msg("✗ Cannot create generated sites directory")
	}

	runner := process.NewRunner(log.Logger)
	registry := preview.NewRegistry(cfg.MaxPreviews, cfg.PreviewTTL, 5*time.Second)
	launcher := preview.NewLauncher(registry, runner, preview.LauncherConfig{
		Command:  cfg.DevCommand,
		Host:     cfg.PreviewHost,
		BasePort: cfg.PreviewBasePort,
	})

	var events *services.EventPublisher
	if redisClients != nil {
		events = services.NewEventPublisher(redisClients.Publish)
	}

	aiService := services.NewAIService(gemini)
	projectService := services.NewProjectService(aiService, runner, launcher, store, events, services.ProjectServiceConfig{
		Root:           cfg.GeneratedSitesDir,
		InstallCommand: cfg.InstallCommand,
		InstallTimeout: cfg.InstallTimeout,
	})

	workerPool := worker.NewPool(projectService, cfg.ScaffoldWorkers, cfg.ScaffoldQueueSize, cfg.InstallTimeout+10*time.Minute)
	workerPool.Start()
	log.Info().Int("workers", cfg.ScaffoldWorkers).Msg("✓ Scaffold worker pool started")

	reaper, err := preview.NewReaper(registry, cfg.ReaperSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("✗ Preview reaper configuration failed")
	}
	reaper.Start()
	log.Info().Str("schedule", cfg.ReaperSchedule).Dur("ttl", cfg.PreviewTTL).Msg("✓ Preview reaper started")

	// ──── Step 6: WebSocket Hub (needs Redis) ────
	var jwtAuth *middleware.JWTAuth
	var verifier websocket.TokenVerifier
	if cfg.JWTSecret != "" {
		jwtAuth = middleware.NewJWTAuth(cfg.JWTSecret)
		verifier = jwtAuth
	}

	var wsHub *websocket.Hub
	var stream handlers.EventStream
	if redisClients != nil {
		wsHub = websocket.NewHub(redisClients.Subscribe, verifier, services.ProjectChannel).RestrictToOwners(history)
		stream = wsHub
		log.Info().Msg("✓ WebSocket hub started")
	}

	// ──── Step 7: Start HTTP Server ────
	limiter := middleware.NewRateLimiter(cfg.GenerateRateLimit)

	r := router.New(router.Options{
		JWTAuth:         jwtAuth,
		GenerateLimiter: limiter,
		AIHandler:       handlers.NewAIHandler(aiService, projectService, workerPool),
		ProjectHandler:  handlers.NewProjectHandler(registry, history, stream),
		EventsEnabled:   wsHub != nil,
		SitesDir:        cfg.GeneratedSitesDir,
		FrontendURL:     cfg.FrontendURL,
	})

	ln, err := ports.Listen(cfg.Port)
	if err != nil {
		log.Fatal().Err(err).Msg("✗ Cannot bind HTTP listener")
	}
	boundPort, _ := ports.PortOf(ln.Addr())
	if boundPort != cfg.Port {
		log.Warn().Int("requested", cfg.Port).Int("bound", boundPort).Msg("Requested port busy, using another")
	}

	server := &http.Server{
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Scaffolding blocks through the dependency install.
		WriteTimeout: cfg.InstallTimeout + 5*time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Int("port", boundPort).Msgf("✓ Site generator ready on http://localhost:%d", boundPort)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		reaper.Stop()
		limiter.Stop()
		workerPool.Stop()

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := registry.StopAll(stopCtx); err != nil {
			log.Warn().Err(err).Msg("Some preview servers did not stop cleanly")
		}
		if wsHub != nil {
			wsHub.CloseAll()
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return
	}
	log.Info().Msg("Server stopped")
}
