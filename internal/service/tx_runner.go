package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/vanshika/clinigraph/internal/graph"
	"github.com/vanshika/clinigraph/internal/metrics"
)

const rollbackTimeout = 5 * time.Second

// txRunner owns the scoped transaction and the retry policy shared by the
// encounter and patient-history writers.
type txRunner struct {
	client  graph.Client
	opts    WriterOptions
	logger  *slog.Logger
	metrics *metrics.Recorder
	mode    Mode
	sleep   func(context.Context, time.Duration) error
}

func newTxRunner(client graph.Client, opts WriterOptions, logger *slog.Logger, mode Mode) txRunner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return txRunner{
		client: client,
		opts:   opts,
		logger: logger.With("component", "graph_writer", "mode", string(mode)),
		mode:   mode,
		sleep:  sleepContext,
	}
}

// run executes fn in a fresh transaction, replaying it while the store
// reports retryable conflicts. It returns the number of attempts made and an
// *IngestionError on failure.
func (r *txRunner) run(ctx context.Context, fn func(context.Context, graph.Tx) error) (int, error) {
	for attempt := 1; ; attempt++ {
		stage, err := r.once(ctx, fn)
		if err == nil {
			return attempt, nil
		}
		if !graph.IsRetryable(err) || attempt > r.opts.MaxRetries {
			return attempt, &IngestionError{Stage: stage, Attempts: attempt, Err: err}
		}

		r.metrics.IncRetry(string(r.mode))
		wait := r.opts.RetryBackoff * time.Duration(attempt)
		r.logger.Warn("retrying transaction after write conflict",
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		if serr := r.sleep(ctx, wait); serr != nil {
			return attempt, &IngestionError{
				Stage:    StageRetry,
				Attempts: attempt,
				Err:      &graph.TransactionError{Op: "retry", Err: serr},
			}
		}
	}
}

// once runs a single attempt. The deferred guard rolls the transaction back on
// every exit path that did not commit.
func (r *txRunner) once(ctx context.Context, fn func(context.Context, graph.Tx) error) (stage Stage, err error) {
	txCtx := ctx
	if r.opts.TxTimeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, r.opts.TxTimeout)
		defer cancel()
	}

	tx, err := r.client.BeginTx(txCtx)
	if err != nil {
		return StageBegin, err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rbErr := tx.Rollback(rbCtx); rbErr != nil {
			r.logger.Error("rollback failed", "error", rbErr)
			err = errors.Join(err, rbErr)
			stage = StageRollback
		}
	}()

	if err := fn(txCtx, tx); err != nil {
		return StageWrite, err
	}
	if err := tx.Commit(txCtx); err != nil {
		return StageCommit, err
	}
	committed = true
	return StageCommit, nil
}

func (r *txRunner) observe(started time.Time, err error) {
	outcome := metrics.OutcomeCommitted
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	r.metrics.ObserveRecord(string(r.mode), outcome, time.Since(started))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
