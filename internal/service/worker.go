package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/clinigraph/internal/domain"
	"github.com/vanshika/clinigraph/internal/graph"
	"github.com/vanshika/clinigraph/internal/metrics"
)

// FailurePolicy decides what the batch does after a record fails.
type FailurePolicy string

const (
	// FailureSkip records the failure and keeps going.
	FailureSkip FailurePolicy = "skip"
	// FailureAbort stops dispatching new records after the first failure.
	FailureAbort FailurePolicy = "abort"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool {
	return p == FailureSkip || p == FailureAbort
}

// EncounterIngester writes one encounter. *GraphWriter implements it.
type EncounterIngester interface {
	Ingest(ctx context.Context, enc domain.Encounter) (EncounterGraphHandle, error)
}

// HistoryIngester writes one patient history. *HistoryWriter implements it.
type HistoryIngester interface {
	Ingest(ctx context.Context, h domain.PatientHistory) (HistoryGraphHandle, error)
}

// RecordFailure is the error produced by the record at Index.
type RecordFailure struct {
	Index int
	Err   error
}

// BatchError accumulates the per-record failures of a batch.
type BatchError struct {
	Failures []RecordFailure
	// Aborted is set when dispatch stopped early.
	Aborted bool
}

func (e *BatchError) Error() string {
	if len(e.Failures) == 0 {
		return "no errors"
	}
	if len(e.Failures) == 1 {
		return fmt.Sprintf("record %d: %v", e.Failures[0].Index, e.Failures[0].Err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d records failed:", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, " [%d] %v;", f.Index, f.Err)
	}
	return b.String()
}

// Unwrap exposes every record error to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// OnlyValidation reports whether every failure was a validation error.
func (e *BatchError) OnlyValidation() bool {
	if len(e.Failures) == 0 {
		return false
	}
	for _, f := range e.Failures {
		var verr *domain.ValidationError
		if !errors.As(f.Err, &verr) {
			return false
		}
	}
	return true
}

func (e *BatchError) append(idx int, err error) {
	if err == nil {
		return
	}
	e.Failures = append(e.Failures, RecordFailure{Index: idx, Err: err})
}

func (e *BatchError) asError() error {
	if len(e.Failures) == 0 {
		return nil
	}
	sort.Slice(e.Failures, func(i, j int) bool { return e.Failures[i].Index < e.Failures[j].Index })
	return e
}

// BatchReport summarises one batch run.
type BatchReport struct {
	RunID     uuid.UUID
	Mode      Mode
	Total     int
	Succeeded int
	Failed    int
	// Unprocessed counts records never dispatched because the batch stopped.
	Unprocessed int
	Duration    time.Duration
}

// BulkIngestor feeds records to the writers through a worker pool. Records
// are independent, so each worker commits its own transactions.
type BulkIngestor struct {
	encounters EncounterIngester
	histories  HistoryIngester
	workers    int
	policy     FailurePolicy
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

// NewBulkIngestor creates a new BulkIngestor with the provided concurrency
// and failure policy. Either ingester may be nil if its mode is unused.
func NewBulkIngestor(encounters EncounterIngester, histories HistoryIngester, workers int, policy FailurePolicy, logger *slog.Logger) *BulkIngestor {
	if workers <= 0 {
		workers = 4
	}
	if !policy.Valid() {
		policy = FailureSkip
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BulkIngestor{
		encounters: encounters,
		histories:  histories,
		workers:    workers,
		policy:     policy,
		logger:     logger.With("component", "bulk_ingestor"),
	}
}

// WithMetrics attaches a metrics recorder.
func (bi *BulkIngestor) WithMetrics(m *metrics.Recorder) *BulkIngestor {
	bi.metrics = m
	return bi
}

// IngestEncounters processes the provided encounters concurrently.
func (bi *BulkIngestor) IngestEncounters(ctx context.Context, encounters []domain.Encounter) (BatchReport, error) {
	if bi.encounters == nil {
		return BatchReport{Mode: ModeStandard}, errors.New("no encounter writer configured")
	}
	return bi.run(ctx, ModeStandard, len(encounters), func(ctx context.Context, idx int) error {
		_, err := bi.encounters.Ingest(ctx, encounters[idx])
		return err
	})
}

// IngestHistories processes patient histories concurrently.
func (bi *BulkIngestor) IngestHistories(ctx context.Context, histories []domain.PatientHistory) (BatchReport, error) {
	if bi.histories == nil {
		return BatchReport{Mode: ModePatientHistory}, errors.New("no patient history writer configured")
	}
	return bi.run(ctx, ModePatientHistory, len(histories), func(ctx context.Context, idx int) error {
		_, err := bi.histories.Ingest(ctx, histories[idx])
		return err
	})
}

func (bi *BulkIngestor) run(ctx context.Context, mode Mode, total int, workerFn func(ctx context.Context, idx int) error) (BatchReport, error) {
	report := BatchReport{RunID: uuid.New(), Mode: mode, Total: total}
	started := time.Now()
	logger := bi.logger.With("run_id", report.RunID.String(), "mode", string(mode))
	if total == 0 {
		return report, nil
	}
	logger.Info("batch started", "records", total, "workers", bi.workers, "policy", string(bi.policy))

	indexCh := make(chan int)
	errCh := make(chan RecordFailure, total)
	stop := make(chan struct{})
	var (
		stopOnce  sync.Once
		succeeded atomic.Int64
		wg        sync.WaitGroup
	)
	halt := func() { stopOnce.Do(func() { close(stop) }) }

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			err := workerFn(ctx, idx)
			if err == nil {
				succeeded.Add(1)
				continue
			}
			logger.Warn("record failed", "record_index", idx, "error", err)
			errCh <- RecordFailure{Index: idx, Err: err}
			if bi.policy == FailureAbort || isFatal(err) {
				halt()
			}
		}
	}

	for i := 0; i < bi.workers; i++ {
		wg.Add(1)
		go worker()
	}

	dispatched := 0
Loop:
	for i := 0; i < total; i++ {
		select {
		case <-stop:
			break Loop
		default:
		}
		select {
		case indexCh <- i:
			dispatched++
		case <-stop:
			break Loop
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	var batchErr BatchError
	for f := range errCh {
		batchErr.append(f.Index, f.Err)
	}
	batchErr.Aborted = dispatched < total

	report.Succeeded = int(succeeded.Load())
	report.Failed = len(batchErr.Failures)
	report.Unprocessed = total - dispatched
	report.Duration = time.Since(started)
	bi.metrics.ObserveBatch(batchResult(report), report.Succeeded, report.Failed)

	logger.Info("batch finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"unprocessed", report.Unprocessed,
		"duration", report.Duration,
	)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, batchErr.asError()
}

// isFatal reports errors that doom every remaining record.
func isFatal(err error) bool {
	var connErr *graph.ConnectionError
	return errors.As(err, &connErr)
}

func batchResult(r BatchReport) string {
	switch {
	case r.Failed == 0 && r.Unprocessed == 0:
		return "ok"
	case r.Succeeded == 0:
		return "failed"
	default:
		return "partial"
	}
}
