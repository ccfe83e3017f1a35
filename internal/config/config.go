package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP    HTTPConfig
	Graph   GraphConfig
	Logging LoggingConfig
	Ingest  IngestConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
	AllowedOrigins  []string
}

// GraphConfig selects the graph store and how to reach it.
type GraphConfig struct {
	Backend        string // neo4j|sqlite|memory
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
	Dialect        string // neo4j|memgraph
	SQLitePath     string
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

// IngestConfig tunes the batch driver and the per-record transactions.
type IngestConfig struct {
	Mode          string // standard|patient-history
	Workers       int
	FailurePolicy string // skip|abort
	TxTimeout     time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
}

// Backends accepted by GRAPH_BACKEND.
const (
	BackendNeo4j  = "neo4j"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// env mirrors the flat environment layout; Load folds it into Config.
type env struct {
	ServerHost            string        `mapstructure:"SERVER_HOST"`
	ServerPort            int           `mapstructure:"SERVER_PORT"`
	ServerReadTimeout     time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	ServerWriteTimeout    time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	ServerIdleTimeout     time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
	ServerShutdownTimeout time.Duration `mapstructure:"SERVER_SHUTDOWN_TIMEOUT"`
	ServerMetricsEnabled  bool          `mapstructure:"SERVER_METRICS_ENABLED"`
	ServerAllowedOrigins  string        `mapstructure:"SERVER_ALLOWED_ORIGINS"`

	GraphBackend        string `mapstructure:"GRAPH_BACKEND"`
	GraphURI            string `mapstructure:"GRAPH_URI"`
	GraphDatabase       string `mapstructure:"GRAPH_DATABASE"`
	GraphUsername       string `mapstructure:"GRAPH_USERNAME"`
	GraphPassword       string `mapstructure:"GRAPH_PASSWORD"`
	GraphMaxConnections int    `mapstructure:"GRAPH_MAX_CONNECTIONS"`
	GraphDialect        string `mapstructure:"GRAPH_DIALECT"`
	GraphSQLitePath     string `mapstructure:"GRAPH_SQLITE_PATH"`

	LogLevel         string `mapstructure:"LOG_LEVEL"`
	LogFormat        string `mapstructure:"LOG_FORMAT"`
	LogIncludeCaller bool   `mapstructure:"LOG_INCLUDE_CALLER"`

	IngestMode          string        `mapstructure:"INGEST_MODE"`
	IngestWorkers       int           `mapstructure:"INGEST_WORKERS"`
	IngestFailurePolicy string        `mapstructure:"INGEST_FAILURE_POLICY"`
	IngestTxTimeout     time.Duration `mapstructure:"INGEST_TX_TIMEOUT"`
	IngestMaxRetries    int           `mapstructure:"INGEST_MAX_RETRIES"`
	IngestRetryBackoff  time.Duration `mapstructure:"INGEST_RETRY_BACKOFF"`
}

var defaults = map[string]any{
	"SERVER_HOST":             "0.0.0.0",
	"SERVER_PORT":             8080,
	"SERVER_READ_TIMEOUT":     "10s",
	"SERVER_WRITE_TIMEOUT":    "15s",
	"SERVER_IDLE_TIMEOUT":     "60s",
	"SERVER_SHUTDOWN_TIMEOUT": "10s",
	"SERVER_METRICS_ENABLED":  true,
	"GRAPH_BACKEND":           BackendNeo4j,
	"GRAPH_MAX_CONNECTIONS":   10,
	"GRAPH_DIALECT":           "neo4j",
	"GRAPH_SQLITE_PATH":       "./data/clinigraph.db",
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "text",
	"LOG_INCLUDE_CALLER":      false,
	"INGEST_MODE":             "standard",
	"INGEST_WORKERS":          4,
	"INGEST_FAILURE_POLICY":   "skip",
	"INGEST_TX_TIMEOUT":       "30s",
	"INGEST_MAX_RETRIES":      3,
	"INGEST_RETRY_BACKOFF":    "100ms",
}

// unsetDefault lists keys with no default that must still be read from the environment.
var unsetDefault = []string{"SERVER_ALLOWED_ORIGINS", "GRAPH_URI", "GRAPH_DATABASE", "GRAPH_USERNAME", "GRAPH_PASSWORD"}

// Load reads configuration from environment variables and an optional .env
// file in the working directory, applying defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	for _, key := range unsetDefault {
		_ = v.BindEnv(key)
	}

	// A missing .env file is not an error.
	_ = v.ReadInConfig()

	var e env
	if err := v.Unmarshal(&e); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Host:            e.ServerHost,
			Port:            e.ServerPort,
			ReadTimeout:     e.ServerReadTimeout,
			WriteTimeout:    e.ServerWriteTimeout,
			IdleTimeout:     e.ServerIdleTimeout,
			ShutdownTimeout: e.ServerShutdownTimeout,
			MetricsEnabled:  e.ServerMetricsEnabled,
			AllowedOrigins:  splitCSV(e.ServerAllowedOrigins),
		},
		Graph: GraphConfig{
			Backend:        strings.ToLower(strings.TrimSpace(e.GraphBackend)),
			URI:            e.GraphURI,
			Database:       e.GraphDatabase,
			Username:       e.GraphUsername,
			Password:       e.GraphPassword,
			MaxConnections: e.GraphMaxConnections,
			Dialect:        strings.ToLower(strings.TrimSpace(e.GraphDialect)),
			SQLitePath:     e.GraphSQLitePath,
		},
		Logging: LoggingConfig{
			Level:         e.LogLevel,
			Format:        e.LogFormat,
			IncludeCaller: e.LogIncludeCaller,
		},
		Ingest: IngestConfig{
			Mode:          strings.ToLower(strings.TrimSpace(e.IngestMode)),
			Workers:       e.IngestWorkers,
			FailurePolicy: strings.ToLower(strings.TrimSpace(e.IngestFailurePolicy)),
			TxTimeout:     e.IngestTxTimeout,
			MaxRetries:    e.IngestMaxRetries,
			RetryBackoff:  e.IngestRetryBackoff,
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values and out-of-range numbers.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.HTTP.Port))
	}
	switch c.Graph.Backend {
	case BackendNeo4j, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("GRAPH_BACKEND must be neo4j, sqlite or memory, got %q", c.Graph.Backend))
	}
	if c.Graph.Dialect != "neo4j" && c.Graph.Dialect != "memgraph" {
		errs = append(errs, fmt.Errorf("GRAPH_DIALECT must be neo4j or memgraph, got %q", c.Graph.Dialect))
	}
	if c.Ingest.Mode != "standard" && c.Ingest.Mode != "patient-history" {
		errs = append(errs, fmt.Errorf("INGEST_MODE must be standard or patient-history, got %q", c.Ingest.Mode))
	}
	if c.Ingest.FailurePolicy != "skip" && c.Ingest.FailurePolicy != "abort" {
		errs = append(errs, fmt.Errorf("INGEST_FAILURE_POLICY must be skip or abort, got %q", c.Ingest.FailurePolicy))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.Ingest.Workers))
	}
	if c.Ingest.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("INGEST_MAX_RETRIES must not be negative, got %d", c.Ingest.MaxRetries))
	}
	if c.Ingest.TxTimeout <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_TX_TIMEOUT must be positive, got %s", c.Ingest.TxTimeout))
	}
	if c.Ingest.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("INGEST_RETRY_BACKOFF must not be negative, got %s", c.Ingest.RetryBackoff))
	}
	return errors.Join(errs...)
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
