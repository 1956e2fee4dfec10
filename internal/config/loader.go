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
const DefaultConfigFile = "genrelay.yaml"

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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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
	setString(&cfg.Server.Port, "GENRELAY_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "GENRELAY_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "GENRELAY_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "GENRELAY_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "GENRELAY_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "GENRELAY_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "GENRELAY_NATS_STREAM")
	setDuration(&cfg.NATS.AckWait, "GENRELAY_NATS_ACK_WAIT")
	setInt(&cfg.NATS.MaxDeliver, "GENRELAY_NATS_MAX_DELIVER")
	setString(&cfg.Worker.ID, "GENRELAY_WORKER_ID")
	setInt(&cfg.Worker.Count, "GENRELAY_WORKER_COUNT")
	setInt(&cfg.Worker.MaxAttempts, "GENRELAY_WORKER_MAX_ATTEMPTS")
	setDuration(&cfg.Worker.ProviderTimeout, "GENRELAY_PROVIDER_TIMEOUT")
	setDuration(&cfg.Worker.RetryBackoff, "GENRELAY_RETRY_BACKOFF")
	setDuration(&cfg.Worker.RetryBackoffMax, "GENRELAY_RETRY_BACKOFF_MAX")
	setInt64(&cfg.Cache.MaxSizeMB, "GENRELAY_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.PriceTTL, "GENRELAY_CACHE_PRICE_TTL")
	setString(&cfg.Logging.Level, "GENRELAY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "GENRELAY_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "GENRELAY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "GENRELAY_BREAKER_TIMEOUT")
	setBool(&cfg.Metrics.Enabled, "GENRELAY_METRICS_ENABLED")
	setString(&cfg.Metrics.Endpoint, "GENRELAY_METRICS_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.NATS.MaxDeliver < 1 {
		return errors.New("nats.max_deliver must be >= 1")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Worker.Count < 1 {
		return errors.New("worker.count must be >= 1")
	}
	if cfg.Worker.MaxAttempts < 1 {
		return errors.New("worker.max_attempts must be >= 1")
	}
	if cfg.NATS.MaxDeliver < cfg.Worker.MaxAttempts {
		return errors.New("nats.max_deliver must be >= worker.max_attempts")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	for model, p := range cfg.Providers {
		if p.Backend == "" {
			return fmt.Errorf("providers.%s.backend is required", model)
		}
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
