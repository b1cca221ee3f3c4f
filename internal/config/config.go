package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     int
	Env      string
	LogLevel string

	// Database (optional)
	DatabaseURL string

	// Redis (optional)
	RedisURL string

	// JWT (optional)
	JWTSecret string

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int

	// Generated projects
	GeneratedSitesDir string
	InstallCommand    string
	InstallTimeout    time.Duration
	DevCommand        string

	// Background scaffolding
	ScaffoldWorkers   int
	ScaffoldQueueSize int

	// Preview servers
	PreviewHost     string
	PreviewBasePort int
	MaxPreviews     int
	PreviewTTL      time.Duration
	ReaperSchedule  string

	// Rate limiting
	GenerateRateLimit int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvAsIntOrDefault("PORT", 3000),
		Env:                  getEnvOrDefault("ENV", "development"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:          getEnvOrDefault("DATABASE_URL", ""),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:            getEnvOrDefault("JWT_SECRET", ""),
		GeminiAPIKey:         mustGetEnv("GEMINI_API_KEY"),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		GeneratedSitesDir:    getEnvOrDefault("GENERATED_SITES_DIR", "./generated-sites"),
		InstallCommand:       getEnvOrDefault("INSTALL_COMMAND", "npm install"),
		InstallTimeout:       getEnvAsDurationOrDefault("INSTALL_TIMEOUT", 10*time.Minute),
		DevCommand:           getEnvOrDefault("DEV_COMMAND", "npm run dev -- --port {port} --host {host} --strictPort"),
		ScaffoldWorkers:      getEnvAsIntOrDefault("SCAFFOLD_WORKERS", 2),
		ScaffoldQueueSize:    getEnvAsIntOrDefault("SCAFFOLD_QUEUE_SIZE", 20),
		PreviewHost:          getEnvOrDefault("PREVIEW_HOST", "localhost"),
		PreviewBasePort:      getEnvAsIntOrDefault("PREVIEW_BASE_PORT", 5173),
		MaxPreviews:          getEnvAsIntOrDefault("MAX_PREVIEWS", 10),
		PreviewTTL:           getEnvAsDurationOrDefault("PREVIEW_TTL", 2*time.Hour),
		ReaperSchedule:       getEnvOrDefault("REAPER_SCHEDULE", "@every 1m"),
		GenerateRateLimit:    getEnvAsIntOrDefault("GENERATE_RATE_LIMIT", 10),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "*"),
	}

	return cfg
}

// IsDevelopment reports whether the service runs with developer-friendly output.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go duration strings ("90s", "2h") and
// bare integers, which are read as seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
