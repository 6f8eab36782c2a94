package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "contractreview.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("CONTRACTREVIEW_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
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
	setString(&cfg.Server.Port, "CONTRACTREVIEW_PORT")
	setString(&cfg.Server.CORSOrigin, "CONTRACTREVIEW_CORS_ORIGIN")
	setString(&cfg.Server.BaseURL, "CONTRACTREVIEW_BASE_URL")
	setDuration(&cfg.Server.RequestTimeout, "CONTRACTREVIEW_REQUEST_TIMEOUT")
	setInt64(&cfg.Server.BodyLimit, "CONTRACTREVIEW_BODY_LIMIT")

	setString(&cfg.Logging.Level, "CONTRACTREVIEW_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONTRACTREVIEW_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CONTRACTREVIEW_LOG_ASYNC")

	// Lifecycle
	setInt(&cfg.Lifecycle.MaxConcurrent, "CONTRACTREVIEW_MAX_CONCURRENT")
	setDuration(&cfg.Lifecycle.AnalysisTimeout, "CONTRACTREVIEW_ANALYSIS_TIMEOUT")
	setDuration(&cfg.Lifecycle.Retention, "CONTRACTREVIEW_RETENTION")
	setDuration(&cfg.Lifecycle.SweepInterval, "CONTRACTREVIEW_SWEEP_INTERVAL")
	setInt(&cfg.Lifecycle.MaxTasks, "CONTRACTREVIEW_MAX_TASKS")
	setInt(&cfg.Hub.BufferSize, "CONTRACTREVIEW_HUB_BUFFER_SIZE")
	setDuration(&cfg.Hub.DeliveryWait, "CONTRACTREVIEW_HUB_DELIVERY_WAIT")

	// LLM
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "CONTRACTREVIEW_LLM_MODEL")
	setFloat64(&cfg.LiteLLM.Temperature, "CONTRACTREVIEW_LLM_TEMPERATURE")
	setDuration(&cfg.LiteLLM.Timeout, "CONTRACTREVIEW_LLM_TIMEOUT")
	setInt(&cfg.Breaker.MaxFailures, "CONTRACTREVIEW_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONTRACTREVIEW_BREAKER_TIMEOUT")

	// HTTP guards
	setBool(&cfg.Rate.Enabled, "CONTRACTREVIEW_RATE_ENABLED")
	setFloat64(&cfg.Rate.RequestsPerSecond, "CONTRACTREVIEW_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CONTRACTREVIEW_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "CONTRACTREVIEW_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "CONTRACTREVIEW_RATE_MAX_IDLE_TIME")
	setString(&cfg.Auth.APIKey, "CONTRACTREVIEW_API_KEY")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "CONTRACTREVIEW_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "CONTRACTREVIEW_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.TTL, "CONTRACTREVIEW_CACHE_TTL")

	// Infrastructure
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONTRACTREVIEW_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONTRACTREVIEW_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONTRACTREVIEW_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONTRACTREVIEW_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONTRACTREVIEW_PG_HEALTH_CHECK")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "CONTRACTREVIEW_OTEL_INSECURE")
	setBool(&cfg.MCP.Enabled, "CONTRACTREVIEW_MCP_ENABLED")
	setString(&cfg.MCP.Path, "CONTRACTREVIEW_MCP_PATH")

	// Agent card
	setString(&cfg.Agent.Name, "CONTRACTREVIEW_AGENT_NAME")
	setString(&cfg.Agent.Description, "CONTRACTREVIEW_AGENT_DESCRIPTION")
	setString(&cfg.Agent.Version, "CONTRACTREVIEW_AGENT_VERSION")
}

// validate checks that required fields are set and limits are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Lifecycle.MaxConcurrent < 1 {
		return errors.New("lifecycle.max_concurrent must be >= 1")
	}
	if cfg.Lifecycle.AnalysisTimeout < 0 || cfg.Lifecycle.Retention < 0 {
		return errors.New("lifecycle durations must not be negative")
	}
	if cfg.Lifecycle.Retention > 0 && cfg.Lifecycle.SweepInterval <= 0 {
		return errors.New("lifecycle.sweep_interval must be > 0 when retention is set")
	}
	if cfg.Lifecycle.MaxTasks < 0 {
		return errors.New("lifecycle.max_tasks must be >= 0")
	}
	if cfg.Hub.BufferSize < 1 {
		return errors.New("hub.buffer_size must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		return errors.New("mcp.path must start with /")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
