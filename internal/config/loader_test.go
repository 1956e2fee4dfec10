package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.NATS.Stream != "GENRELAY" {
		t.Errorf("expected stream GENRELAY, got %s", cfg.NATS.Stream)
	}
	if cfg.Worker.MaxAttempts != 3 {
		t.Errorf("expected max_attempts 3, got %d", cfg.Worker.MaxAttempts)
	}
	if cfg.NATS.MaxDeliver < cfg.Worker.MaxAttempts {
		t.Errorf("defaults must satisfy max_deliver >= max_attempts")
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
worker:
  count: 8
  max_attempts: 5
nats:
  max_deliver: 10
providers:
  flux-video:
    backend: fluxpix
    options:
      base_url: "http://flux:9000"
      model: "flux-video-1"
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Worker.Count != 8 {
		t.Errorf("expected worker count 8, got %d", cfg.Worker.Count)
	}
	if cfg.Worker.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", cfg.Worker.MaxAttempts)
	}
	p, ok := cfg.Providers["flux-video"]
	if !ok {
		t.Fatal("expected flux-video provider")
	}
	if p.Backend != "fluxpix" || p.Options["base_url"] != "http://flux:9000" {
		t.Errorf("unexpected provider config %+v", p)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("GENRELAY_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("GENRELAY_WORKER_COUNT", "12")
	t.Setenv("GENRELAY_NATS_ACK_WAIT", "5m")
	t.Setenv("GENRELAY_METRICS_ENABLED", "true")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected env DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Worker.Count != 12 {
		t.Errorf("expected worker count 12, got %d", cfg.Worker.Count)
	}
	if cfg.NATS.AckWait != 5*time.Minute {
		t.Errorf("expected ack_wait 5m, got %v", cfg.NATS.AckWait)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(_ *Config) {}, false},
		{"missing port", func(c *Config) { c.Server.Port = "" }, true},
		{"missing dsn", func(c *Config) { c.Postgres.DSN = "" }, true},
		{"zero workers", func(c *Config) { c.Worker.Count = 0 }, true},
		{"max_deliver below max_attempts", func(c *Config) { c.NATS.MaxDeliver = 2; c.Worker.MaxAttempts = 3 }, true},
		{"provider without backend", func(c *Config) { c.Providers["x"] = Provider{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
