package router

import (
	"net/http"
	"os"
	"path"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"sitegen-backend/internal/handlers"
	"sitegen-backend/internal/middleware"
)

type Options struct {
	// JWTAuth guards /ai/* when set.
	JWTAuth         *middleware.JWTAuth
	GenerateLimiter *middleware.RateLimiter
	AIHandler       *handlers.AIHandler
	ProjectHandler  *handlers.ProjectHandler

	// EventsEnabled mounts the websocket route.
	EventsEnabled bool
	SitesDir      string
	FrontendURL   string
}

func New(opts Options) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.FrontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/ai", func(r chi.Router) {
		// The event stream checks its own ?token= parameter.
		if opts.EventsEnabled {
			r.Get("/projects/{id}/events", opts.ProjectHandler.Events)
		}

		r.Group(func(r chi.Router) {
			if opts.JWTAuth != nil {
				r.Use(opts.JWTAuth.Middleware)
			}

			// ──── Generation (rate limited) ────
			r.Group(func(r chi.Router) {
				if opts.GenerateLimiter != nil {
					r.Use(opts.GenerateLimiter.Middleware)
				}
				r.Post("/generate", opts.AIHandler.Generate)
				r.Post("/projects", opts.AIHandler.Scaffold)
				r.Post("/scaffold", opts.AIHandler.Scaffold)
			})

			// ──── Running projects ────
			r.Get("/projects", opts.ProjectHandler.List)
			r.Get("/projects/{id}", opts.ProjectHandler.Get)
			r.Delete("/projects/{id}", opts.ProjectHandler.Stop)
		})
	})

	// ──── Generated sources (read-only) ────
	if opts.SitesDir != "" {
		fs := http.StripPrefix("/generated-sites/", http.FileServer(noListingFS{http.Dir(opts.SitesDir)}))
		r.Get("/generated-sites/*", fs.ServeHTTP)
	}

	return r
}

// noListingFS hides directories that have no index.html.
type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.IsDir() {
		index, err := n.fs.Open(path.Join(name, "index.html"))
		if err != nil {
			f.Close()
			return nil, os.ErrNotExist
		}
		index.Close()
	}
	return f, nil
}
