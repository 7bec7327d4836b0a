package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Driver names accepted for LEDGER_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds every runtime setting. Values come from environment
// variables (a local .env is loaded by the entrypoints before Load runs).
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	SejoliBaseURL   string
	SejoliUsername  string
	SejoliPassword  string
	SejoliTimeout   time.Duration
	SejoliPageSize  int
	SejoliPageDelay time.Duration
	SejoliMaxPages  int

	LedgerDriver string
	DatabaseURL  string
	SQLitePath   string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisTLS        bool
	ProductCacheTTL time.Duration

	MetricsNamespace string
	OpsListenAddr    string
}

// Load reads configuration from the environment and validates the
// combinations the batch jobs cannot run without.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    envString("APP_ENV", "development"),
		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "text"),

		SejoliBaseURL:   strings.TrimRight(envString("SEJOLI_BASE_URL", ""), "/"),
		SejoliUsername:  envString("SEJOLI_USERNAME", ""),
		SejoliPassword:  envString("SEJOLI_PASSWORD", ""),
		SejoliTimeout:   envDuration("SEJOLI_TIMEOUT", 30*time.Second),
		SejoliPageSize:  envInt("SEJOLI_PAGE_SIZE", 100),
		SejoliPageDelay: envDuration("SEJOLI_PAGE_DELAY", 300*time.Millisecond),
		SejoliMaxPages:  envInt("SEJOLI_MAX_PAGES", 200),

		LedgerDriver: strings.ToLower(envString("LEDGER_DRIVER", DriverPostgres)),
		DatabaseURL:  envString("DATABASE_URL", ""),
		SQLitePath:   envString("SQLITE_PATH", "ledger.db"),

		RedisAddr:       envString("REDIS_ADDR", ""),
		RedisPassword:   envString("REDIS_PASSWORD", ""),
		RedisDB:         envInt("REDIS_DB", 0),
		RedisTLS:        envBool("REDIS_TLS", false),
		ProductCacheTTL: envDuration("PRODUCT_CACHE_TTL", 5*time.Minute),

		MetricsNamespace: envString("METRICS_NAMESPACE", "sejoli_sync"),
		OpsListenAddr:    envString("OPS_LISTEN_ADDR", ""),
	}

	if cfg.SejoliBaseURL == "" {
		return nil, fmt.Errorf("SEJOLI_BASE_URL is required")
	}
	if cfg.SejoliPageSize <= 0 {
		return nil, fmt.Errorf("SEJOLI_PAGE_SIZE must be positive, got %d", cfg.SejoliPageSize)
	}

	switch cfg.LedgerDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when LEDGER_DRIVER=postgres")
		}
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("SQLITE_PATH is required when LEDGER_DRIVER=sqlite")
		}
	default:
		return nil, fmt.Errorf("unsupported LEDGER_DRIVER %q", cfg.LedgerDriver)
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}
