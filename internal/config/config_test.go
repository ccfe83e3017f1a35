package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Graph.Backend != BackendNeo4j {
		t.Errorf("expected neo4j backend, got %s", cfg.Graph.Backend)
	}
	if cfg.Ingest.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Ingest.Workers)
	}
	if cfg.Ingest.TxTimeout != 30*time.Second {
		t.Errorf("expected 30s transaction timeout, got %s", cfg.Ingest.TxTimeout)
	}
	if cfg.Ingest.RetryBackoff != 100*time.Millisecond {
		t.Errorf("expected 100ms backoff, got %s", cfg.Ingest.RetryBackoff)
	}
	if cfg.Ingest.FailurePolicy != "skip" {
		t.Errorf("expected skip policy, got %s", cfg.Ingest.FailurePolicy)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "SQLite")
	t.Setenv("GRAPH_SQLITE_PATH", "/tmp/graph.db")
	t.Setenv("GRAPH_URI", "bolt://memgraph:7687")
	t.Setenv("GRAPH_DIALECT", "memgraph")
	t.Setenv("INGEST_WORKERS", "12")
	t.Setenv("INGEST_FAILURE_POLICY", "abort")
	t.Setenv("INGEST_TX_TIMEOUT", "2m")
	t.Setenv("INGEST_MODE", "patient-history")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "http://localhost:3000, ,https://clinic.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Graph.Backend != BackendSQLite {
		t.Errorf("expected sqlite backend, got %s", cfg.Graph.Backend)
	}
	if cfg.Graph.SQLitePath != "/tmp/graph.db" {
		t.Errorf("unexpected sqlite path %s", cfg.Graph.SQLitePath)
	}
	if cfg.Graph.URI != "bolt://memgraph:7687" {
		t.Errorf("unexpected graph uri %s", cfg.Graph.URI)
	}
	if cfg.Graph.Dialect != "memgraph" {
		t.Errorf("expected memgraph dialect, got %s", cfg.Graph.Dialect)
	}
	if cfg.Ingest.Workers != 12 {
		t.Errorf("expected 12 workers, got %d", cfg.Ingest.Workers)
	}
	if cfg.Ingest.FailurePolicy != "abort" {
		t.Errorf("expected abort policy, got %s", cfg.Ingest.FailurePolicy)
	}
	if cfg.Ingest.TxTimeout != 2*time.Minute {
		t.Errorf("expected 2m timeout, got %s", cfg.Ingest.TxTimeout)
	}
	if cfg.Ingest.Mode != "patient-history" {
		t.Errorf("expected patient-history mode, got %s", cfg.Ingest.Mode)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected json logging, got %s", cfg.Logging.Format)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "https://clinic.example" {
		t.Errorf("unexpected allowed origins %v", cfg.HTTP.AllowedOrigins)
	}
}

func TestLoad_RejectsUnknownValues(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "postgres")
	t.Setenv("INGEST_FAILURE_POLICY", "retry-forever")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for unknown backend and policy")
	}
}

func TestLoad_RejectsInvalidDuration(t *testing.T) {
	t.Setenv("INGEST_TX_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestValidate_NonPositiveWorkers(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Ingest.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero workers")
	}
}
