// Package config provides centralized configuration for tabledger.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database DatabaseConfig
	Ingest   IngestConfig
	Server   ServerConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// DatabaseConfig selects and opens the relational store.
type DatabaseConfig struct {
	// Driver is the store dialect: sqlite, postgres or duckdb (default: sqlite)
	Driver string `env:"DB_DRIVER" default:"sqlite"`

	// URL is the DSN or file path of the store.
	// Supports both DATABASE_URL and DB_PATH env vars.
	URL string `env:"DATABASE_URL" envAlt:"DB_PATH" default:"tabledger.db"`

	// MaxOpenConns caps the connection pool. SQLite always uses one (default: 4)
	MaxOpenConns int `env:"DB_MAX_OPEN_CONNS" default:"4"`
}

// IngestConfig holds load and harmonize settings.
type IngestConfig struct {
	// Actor is recorded as user_id in the ledger. Empty uses the OS user.
	Actor string `env:"INGEST_ACTOR"`

	// WriterWait is how long a writer waits for the single write slot (default: 30s)
	WriterWait time.Duration `env:"INGEST_WRITER_WAIT" default:"30s"`

	// Timeout bounds one ingest or harmonize operation (default: 10m)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"10m"`

	// InsertBatch is the bound-parameter budget per INSERT statement (default: 900)
	InsertBatch int `env:"INGEST_INSERT_BATCH" default:"900"`

	// ReadConcurrency bounds parallel source reads in batch and folder loads (default: 4)
	ReadConcurrency int `env:"BATCH_READ_CONCURRENCY" default:"4"`

	// MaxFileSize is the largest accepted source, e.g. 100MB (default: 100MiB)
	MaxFileSize ByteSize `env:"UPLOAD_MAX_FILE_SIZE" default:"100MiB"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 10m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"10m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	// Enabled serves /metrics and records ingestion metrics (default: true)
	Enabled bool `env:"METRICS_ENABLED" default:"true"`
}

// ByteSize is a size in bytes parsed from values such as "512KB" or "100MiB".
type ByteSize int64

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
