package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds all process configuration loaded from environment variables.
type Config struct {
	DatabaseURL          string
	RedisURL             string
	HTTPPort             string
	StageFile            string
	AdminAPIKey          string
	CacheTTL             time.Duration
	PeriodWorkerInterval time.Duration
	HistoryLimit         int
	ReportFile           string
	ReportWorkerInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		DatabaseURL:          envOrDefault("DATABASE_URL", ""),
		RedisURL:             envOrDefault("REDIS_URL", ""),
		HTTPPort:             envOrDefault("HTTP_PORT", "8080"),
		StageFile:            envOrDefault("STAGE_FILE", "configs/stage.yaml"),
		AdminAPIKey:          envOrDefaultWarn("ADMIN_API_KEY", ""),
		CacheTTL:             envOrDefaultDuration("CACHE_TTL", 30*time.Second),
		PeriodWorkerInterval: envOrDefaultDuration("PERIOD_WORKER_INTERVAL", 10*time.Minute),
		HistoryLimit:         envOrDefaultInt("HISTORY_LIMIT", 100),
		ReportFile:           envOrDefault("REPORT_FILE", ""),
		ReportWorkerInterval: envOrDefaultDuration("REPORT_WORKER_INTERVAL", time.Hour),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("required env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}
