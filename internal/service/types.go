package service

import (
	"fmt"
	"time"

	"github.com/vanshika/clinigraph/internal/graph"
)

// Mode selects which record layout a batch is ingested with.
type Mode string

const (
	ModeStandard       Mode = "standard"
	ModePatientHistory Mode = "patient-history"
)

// Valid reports whether m is a known ingestion mode.
func (m Mode) Valid() bool {
	return m == ModeStandard || m == ModePatientHistory
}

// Stage names the step of an ingestion that failed.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageBegin    Stage = "begin"
	StageWrite    Stage = "write"
	StageCommit   Stage = "commit"
	StageRollback Stage = "rollback"
	StageRetry    Stage = "retry"
)

// WriterOptions tunes transaction handling shared by both writers.
type WriterOptions struct {
	// TxTimeout bounds each transaction attempt. Zero disables the deadline.
	TxTimeout time.Duration
	// MaxRetries is the number of replays allowed after a retryable conflict.
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultWriterOptions mirrors the configuration defaults.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		TxTimeout:    30 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// EncounterGraphHandle identifies the nodes written for one encounter.
type EncounterGraphHandle struct {
	EncounterID  graph.NodeID
	PatientID    graph.NodeID
	ProviderID   graph.NodeID
	DiagnosisIDs []graph.NodeID
	TestIDs      []graph.NodeID
	TreatmentIDs []graph.NodeID
	// Attempts counts transactions opened, including the successful one.
	Attempts int
}

// HistoryGraphHandle identifies the nodes written for one patient history.
type HistoryGraphHandle struct {
	PatientID    graph.NodeID
	EncounterIDs []graph.NodeID
	TestIDs      [][]graph.NodeID
	Attempts     int
}

// IngestionError wraps the failure of a single record with the stage at
// which it happened. The underlying error is one of *domain.ValidationError,
// *graph.WriteConflictError, *graph.TransactionError or *graph.ConnectionError.
type IngestionError struct {
	Stage    Stage
	Attempts int
	Err      error
}

func (e *IngestionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("ingest %s (after %d attempts): %v", e.Stage, e.Attempts, e.Err)
	}
	return fmt.Sprintf("ingest %s: %v", e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }
