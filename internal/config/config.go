package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	CacheDir    string
	SnapshotDir string
	DBPath      string
	LogLevel    string
	HTTPTimeout time.Duration
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	baseDir := getEnv("SABERSTATS_DIR", ".")

	cfg := &Config{
		CacheDir:    getEnv("CACHE_DIR", filepath.Join(baseDir, "cache")),
		SnapshotDir: getEnv("SNAPSHOT_DIR", filepath.Join(baseDir, "snapshots")),
		DBPath:      getEnv("DB_PATH", filepath.Join(baseDir, "saberstats.db")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPTimeout: 10 * time.Second,
	}

	if raw := os.Getenv("HTTP_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.HTTPTimeout = d
		} else {
			logger.Warn().Str("value", raw).Msg("invalid HTTP_TIMEOUT, keeping default")
		}
	}

	logger.Info().
		Str("cache_dir", cfg.CacheDir).
		Str("snapshot_dir", cfg.SnapshotDir).
		Str("db_path", cfg.DBPath).
		Dur("http_timeout", cfg.HTTPTimeout).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
