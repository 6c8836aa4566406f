package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/room-scheduler/internal/logging"
)

// DefaultEnvFile is read by Load when present.
const DefaultEnvFile = ".env"

// Config captures environment driven configuration values for the scheduler.
type Config struct {
	// DatabaseDSN selects the store: a SQLite path (optionally sqlite://),
	// a postgres:// URL, or "memory".
	DatabaseDSN        string
	LogLevel           slog.Level
	ConflictHorizon    time.Duration
	ExpansionCacheSize int
	MaxConcurrency     int
	SQLiteBusyTimeout  time.Duration
	// ConflictCacheTTL bounds how long computed conflict warnings are reused.
	ConflictCacheTTL time.Duration
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		DatabaseDSN:        "scheduler.db",
		LogLevel:           slog.LevelInfo,
		ConflictHorizon:    90 * 24 * time.Hour,
		ExpansionCacheSize: 256,
		MaxConcurrency:     4,
		SQLiteBusyTimeout:  5 * time.Second,
		ConflictCacheTTL:   30 * time.Second,
	}
}

// Load reads DefaultEnvFile when it exists and then parses the process
// environment. Variables already set in the environment win over the file.
func Load() (Config, error) {
	return LoadFile(DefaultEnvFile, false)
}

// LoadFile reads the dotenv file at path before parsing the environment. A
// missing file is an error only when required is set.
func LoadFile(path string, required bool) (Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("環境ファイルを読み込めません: %s: %w", path, err)
			}
		}
	}
	return parseEnvironment()
}

func parseEnvironment() (Config, error) {
	cfg := Default()
	invalid := make([]string, 0, 2)

	if dsn := strings.TrimSpace(os.Getenv("SCHEDULER_DATABASE_DSN")); dsn != "" {
		cfg.DatabaseDSN = dsn
	}

	if levelValue := strings.TrimSpace(os.Getenv("SCHEDULER_LOG_LEVEL")); levelValue != "" {
		level, err := logging.ParseLevel(levelValue)
		if err != nil {
			invalid = append(invalid, "SCHEDULER_LOG_LEVEL")
		} else {
			cfg.LogLevel = level
		}
	}

	if horizonValue := strings.TrimSpace(os.Getenv("SCHEDULER_CONFLICT_HORIZON")); horizonValue != "" {
		horizon, err := time.ParseDuration(horizonValue)
		if err != nil || horizon <= 0 {
			invalid = append(invalid, "SCHEDULER_CONFLICT_HORIZON")
		} else {
			cfg.ConflictHorizon = horizon
		}
	}

	if sizeValue := strings.TrimSpace(os.Getenv("SCHEDULER_EXPANSION_CACHE_SIZE")); sizeValue != "" {
		size, err := strconv.Atoi(sizeValue)
		if err != nil || size < 0 {
			invalid = append(invalid, "SCHEDULER_EXPANSION_CACHE_SIZE")
		} else {
			cfg.ExpansionCacheSize = size
		}
	}

	if concurrencyValue := strings.TrimSpace(os.Getenv("SCHEDULER_MAX_CONCURRENCY")); concurrencyValue != "" {
		concurrency, err := strconv.Atoi(concurrencyValue)
		if err != nil || concurrency <= 0 {
			invalid = append(invalid, "SCHEDULER_MAX_CONCURRENCY")
		} else {
			cfg.MaxConcurrency = concurrency
		}
	}

	if timeoutValue := strings.TrimSpace(os.Getenv("SCHEDULER_SQLITE_BUSY_TIMEOUT")); timeoutValue != "" {
		timeout, err := time.ParseDuration(timeoutValue)
		if err != nil || timeout < 0 {
			invalid = append(invalid, "SCHEDULER_SQLITE_BUSY_TIMEOUT")
		} else {
			cfg.SQLiteBusyTimeout = timeout
		}
	}

	if ttlValue := strings.TrimSpace(os.Getenv("SCHEDULER_CONFLICT_CACHE_TTL")); ttlValue != "" {
		ttl, err := time.ParseDuration(ttlValue)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, "SCHEDULER_CONFLICT_CACHE_TTL")
		} else {
			cfg.ConflictCacheTTL = ttl
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
