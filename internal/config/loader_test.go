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
	if cfg.Lifecycle.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent 4, got %d", cfg.Lifecycle.MaxConcurrent)
	}
	if cfg.Lifecycle.AnalysisTimeout != 5*time.Minute {
		t.Errorf("expected analysis timeout 5m, got %v", cfg.Lifecycle.AnalysisTimeout)
	}
	if cfg.Hub.BufferSize != 16 {
		t.Errorf("expected hub buffer 16, got %d", cfg.Hub.BufferSize)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.NATS.URL != "" || cfg.Postgres.DSN != "" {
		t.Error("optional infrastructure must be disabled by default")
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
lifecycle:
  max_concurrent: 8
  analysis_timeout: 90s
hub:
  buffer_size: 4
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
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Lifecycle.MaxConcurrent != 8 {
		t.Errorf("expected max_concurrent 8, got %d", cfg.Lifecycle.MaxConcurrent)
	}
	if cfg.Lifecycle.AnalysisTimeout != 90*time.Second {
		t.Errorf("expected analysis timeout 90s, got %v", cfg.Lifecycle.AnalysisTimeout)
	}
	if cfg.Hub.BufferSize != 4 {
		t.Errorf("expected buffer 4, got %d", cfg.Hub.BufferSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Lifecycle.Retention != time.Hour {
		t.Errorf("expected default retention, got %v", cfg.Lifecycle.Retention)
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

	t.Setenv("CONTRACTREVIEW_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("CONTRACTREVIEW_MAX_CONCURRENT", "2")
	t.Setenv("CONTRACTREVIEW_ANALYSIS_TIMEOUT", "1m")
	t.Setenv("CONTRACTREVIEW_LOG_LEVEL", "warn")
	t.Setenv("CONTRACTREVIEW_API_KEY", "secret")
	t.Setenv("CONTRACTREVIEW_LLM_TEMPERATURE", "0.1")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://nats:4222" {
		t.Errorf("expected NATS URL, got %s", cfg.NATS.URL)
	}
	if cfg.Lifecycle.MaxConcurrent != 2 {
		t.Errorf("expected max_concurrent 2, got %d", cfg.Lifecycle.MaxConcurrent)
	}
	if cfg.Lifecycle.AnalysisTimeout != time.Minute {
		t.Errorf("expected timeout 1m, got %v", cfg.Lifecycle.AnalysisTimeout)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Auth.APIKey != "secret" {
		t.Errorf("expected api key, got %q", cfg.Auth.APIKey)
	}
	if cfg.LiteLLM.Temperature != 0.1 {
		t.Errorf("expected temperature 0.1, got %v", cfg.LiteLLM.Temperature)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "zero max_concurrent",
			modify: func(c *Config) { c.Lifecycle.MaxConcurrent = 0 },
			errMsg: "lifecycle.max_concurrent must be >= 1",
		},
		{
			name:   "negative timeout",
			modify: func(c *Config) { c.Lifecycle.AnalysisTimeout = -time.Second },
			errMsg: "lifecycle durations must not be negative",
		},
		{
			name:   "retention without sweep",
			modify: func(c *Config) { c.Lifecycle.SweepInterval = 0 },
			errMsg: "lifecycle.sweep_interval must be > 0 when retention is set",
		},
		{
			name:   "negative max_tasks",
			modify: func(c *Config) { c.Lifecycle.MaxTasks = -1 },
			errMsg: "lifecycle.max_tasks must be >= 0",
		},
		{
			name:   "zero hub buffer",
			modify: func(c *Config) { c.Hub.BufferSize = 0 },
			errMsg: "hub.buffer_size must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero rate burst",
			modify: func(c *Config) { c.Rate.Burst = 0 },
			errMsg: "rate.burst must be >= 1",
		},
		{
			name: "zero max_conns with DSN",
			modify: func(c *Config) {
				c.Postgres.DSN = "postgres://localhost/db"
				c.Postgres.MaxConns = 0
			},
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "relative mcp path",
			modify: func(c *Config) { c.MCP.Path = "mcp" },
			errMsg: "mcp.path must start with /",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestValidateZeroRetentionAllowsZeroSweep(t *testing.T) {
	cfg := Defaults()
	cfg.Lifecycle.Retention = 0
	cfg.Lifecycle.SweepInterval = 0
	if err := validate(&cfg); err != nil {
		t.Errorf("retention disabled should not require a sweep interval, got %v", err)
	}
}
