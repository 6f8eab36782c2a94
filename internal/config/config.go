// Package config provides hierarchical configuration loading for the
// contract review service.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the contract review service.
type Config struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Lifecycle Lifecycle `yaml:"lifecycle"`
	Hub       Hub       `yaml:"hub"`
	LiteLLM   LiteLLM   `yaml:"litellm"`
	Breaker   Breaker   `yaml:"breaker"`
	Rate      Rate      `yaml:"rate"`
	Auth      Auth      `yaml:"auth"`
	Cache     Cache     `yaml:"cache"`
	NATS      NATS      `yaml:"nats"`
	Postgres  Postgres  `yaml:"postgres"`
	OTEL      OTEL      `yaml:"otel"`
	MCP       MCP       `yaml:"mcp"`
	Agent     Agent     `yaml:"agent"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port           string        `yaml:"port"`
	CORSOrigin     string        `yaml:"cors_origin"`
	BaseURL        string        `yaml:"base_url"` // advertised in the agent card
	RequestTimeout time.Duration `yaml:"request_timeout"`
	BodyLimit      int64         `yaml:"body_limit"` // bytes
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Lifecycle holds task lifecycle manager configuration.
type Lifecycle struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`   // concurrent analyses (default: 4)
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"` // 0 = no timeout
	Retention       time.Duration `yaml:"retention"`        // terminal task retention; 0 = keep forever
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	MaxTasks        int           `yaml:"max_tasks"` // retained task cap; 0 = unlimited
}

// Hub holds event hub configuration.
type Hub struct {
	BufferSize   int           `yaml:"buffer_size"`   // per-subscriber queue length
	DeliveryWait time.Duration `yaml:"delivery_wait"` // bounded wait before drop-oldest
}

// LiteLLM holds LiteLLM proxy configuration.
type LiteLLM struct {
	URL         string        `yaml:"url"`
	MasterKey   string        `yaml:"master_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds rate limiter configuration.
type Rate struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Auth holds API key authentication configuration. An empty key disables the check.
type Auth struct {
	APIKey string `yaml:"api_key"`
}

// Cache holds analysis result cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2Bucket    string        `yaml:"l2_bucket"` // empty disables the NATS KV tier
	TTL         time.Duration `yaml:"ttl"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the relay.
type NATS struct {
	URL string `yaml:"url"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN
// disables the task archive.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Endpoint string `yaml:"endpoint"` // empty disables export
	Insecure bool   `yaml:"insecure"`
}

// MCP holds Model Context Protocol server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Agent holds the metadata published in the agent card.
type Agent struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:           "8080",
			CORSOrigin:     "*",
			BaseURL:        "http://localhost:8080",
			RequestTimeout: 30 * time.Second,
			BodyLimit:      10 << 20,
		},
		Logging: Logging{
			Level:   "info",
			Service: "contractreview",
		},
		Lifecycle: Lifecycle{
			MaxConcurrent:   4,
			AnalysisTimeout: 5 * time.Minute,
			Retention:       time.Hour,
			SweepInterval:   time.Minute,
		},
		Hub: Hub{
			BufferSize:   16,
			DeliveryWait: 50 * time.Millisecond,
		},
		LiteLLM: LiteLLM{
			URL:     "http://localhost:4000",
			Model:   "openai/gpt-4o",
			Timeout: 2 * time.Minute,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			Enabled:           true,
			RequestsPerSecond: 10,
			Burst:             100,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		Cache: Cache{
			L1MaxSizeMB: 64,
			TTL:         24 * time.Hour,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		MCP: MCP{
			Enabled: true,
			Path:    "/mcp",
		},
		Agent: Agent{
			Name:        "Contract Review Agent",
			Description: "Contract clause review and risk analysis",
			Version:     "0.1.0",
		},
	}
}
