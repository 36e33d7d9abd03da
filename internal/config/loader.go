package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "sheetgenai.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SHEETGENAI_PORT")
	setString(&cfg.Server.CORSOrigin, "SHEETGENAI_CORS_ORIGIN")
	setString(&cfg.KV.Backend, "SHEETGENAI_KV_BACKEND")
	setString(&cfg.KV.Bucket, "SHEETGENAI_KV_BUCKET")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SHEETGENAI_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SHEETGENAI_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SHEETGENAI_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SHEETGENAI_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SHEETGENAI_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Vertex.Project, "GOOGLE_CLOUD_PROJECT")
	setString(&cfg.Vertex.Project, "SHEETGENAI_VERTEX_PROJECT")
	setString(&cfg.Vertex.Region, "SHEETGENAI_VERTEX_REGION")
	setString(&cfg.Vertex.Model, "SHEETGENAI_VERTEX_MODEL")
	setFloat64(&cfg.Vertex.Temperature, "SHEETGENAI_VERTEX_TEMPERATURE")
	setString(&cfg.Vertex.Endpoint, "SHEETGENAI_VERTEX_ENDPOINT")
	setInt(&cfg.Vertex.MaxAttempts, "SHEETGENAI_VERTEX_MAX_ATTEMPTS")
	setDuration(&cfg.Vertex.RetryDelay, "SHEETGENAI_VERTEX_RETRY_DELAY")
	setDuration(&cfg.Vertex.RequestTimeout, "SHEETGENAI_VERTEX_TIMEOUT")
	setInt(&cfg.Vertex.MaxOutputTokens, "SHEETGENAI_VERTEX_MAX_OUTPUT_TOKENS")
	setString(&cfg.Sheets.SpreadsheetID, "SHEETGENAI_SPREADSHEET_ID")
	setString(&cfg.Sheets.SheetName, "SHEETGENAI_SHEET_NAME")
	setString(&cfg.Sheets.Endpoint, "SHEETGENAI_SHEETS_ENDPOINT")
	setDuration(&cfg.Sheets.RequestTimeout, "SHEETGENAI_SHEETS_TIMEOUT")
	setDuration(&cfg.Scheduler.WindowBudget, "SHEETGENAI_WINDOW_BUDGET")
	setDuration(&cfg.Scheduler.IdleInterval, "SHEETGENAI_IDLE_INTERVAL")
	setDuration(&cfg.Scheduler.RearmDelay, "SHEETGENAI_REARM_DELAY")
	setDuration(&cfg.Scheduler.LockWait, "SHEETGENAI_LOCK_WAIT")
	setInt64(&cfg.Cache.L1MaxSizeMB, "SHEETGENAI_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "SHEETGENAI_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.AnswerTTL, "SHEETGENAI_CACHE_ANSWER_TTL")
	setDuration(&cfg.Cache.BackfillTTL, "SHEETGENAI_CACHE_BACKFILL_TTL")
	setString(&cfg.Auth.APIKeyHash, "SHEETGENAI_API_KEY_HASH")
	setString(&cfg.Auth.TokenURL, "SHEETGENAI_AUTH_TOKEN_URL")
	setString(&cfg.Logging.Level, "SHEETGENAI_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SHEETGENAI_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SHEETGENAI_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "SHEETGENAI_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SHEETGENAI_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "SHEETGENAI_RATE_RPS")
	setInt(&cfg.Rate.Burst, "SHEETGENAI_RATE_BURST")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.KV.Backend {
	case "nats", "postgres", "memory":
	default:
		return fmt.Errorf("kv.backend must be nats, postgres or memory, got %q", cfg.KV.Backend)
	}
	if cfg.KV.Backend == "nats" && cfg.NATS.URL == "" {
		return errors.New("nats.url is required for the nats backend")
	}
	if cfg.KV.Backend == "postgres" && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for the postgres backend")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Scheduler.WindowBudget <= 0 {
		return errors.New("scheduler.window_budget must be positive")
	}
	if cfg.Scheduler.IdleInterval <= 0 {
		return errors.New("scheduler.idle_interval must be positive")
	}
	if cfg.Scheduler.RearmDelay <= 0 {
		return errors.New("scheduler.rearm_delay must be positive")
	}
	if cfg.Scheduler.LockWait <= 0 {
		return errors.New("scheduler.lock_wait must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
