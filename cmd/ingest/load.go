package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/clinigraph/internal/dataset"
	"github.com/vanshika/clinigraph/internal/graph"
	"github.com/vanshika/clinigraph/internal/service"
)

type loadOptions struct {
	file       string
	mode       string
	workers    int
	onError    string
	clearFirst bool
	txTimeout  time.Duration
	maxRetries int
}

func newLoadCmd(a *app) *cobra.Command {
	var opts loadOptions
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Ingest a JSON dataset",
		Long: `Ingest a JSON dataset. In standard mode the file holds encounters, either
as {"encounters": [...]}, a bare array, or one object. In patient-history
mode it holds {"patients": [...]} with encounters nested per patient.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.applyLoadFlags(cmd, &opts)
			return a.load(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "path to the JSON dataset")
	flags.StringVar(&opts.mode, "mode", "", "ingestion mode: standard or patient-history (default from INGEST_MODE)")
	flags.IntVar(&opts.workers, "workers", 0, "number of concurrent workers (default from INGEST_WORKERS)")
	flags.StringVar(&opts.onError, "on-error", "", "failure policy: skip or abort (default from INGEST_FAILURE_POLICY)")
	flags.BoolVar(&opts.clearFirst, "clear-first", false, "delete the existing graph before loading")
	flags.DurationVar(&opts.txTimeout, "tx-timeout", 0, "deadline for each transaction (default from INGEST_TX_TIMEOUT)")
	flags.IntVar(&opts.maxRetries, "max-retries", 0, "replays allowed after a write conflict (default from INGEST_MAX_RETRIES)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// applyLoadFlags fills unset flags from configuration.
func (a *app) applyLoadFlags(cmd *cobra.Command, opts *loadOptions) {
	flags := cmd.Flags()
	if !flags.Changed("mode") {
		opts.mode = a.cfg.Ingest.Mode
	}
	if !flags.Changed("workers") {
		opts.workers = a.cfg.Ingest.Workers
	}
	if !flags.Changed("on-error") {
		opts.onError = a.cfg.Ingest.FailurePolicy
	}
	if !flags.Changed("tx-timeout") {
		opts.txTimeout = a.cfg.Ingest.TxTimeout
	}
	if !flags.Changed("max-retries") {
		opts.maxRetries = a.cfg.Ingest.MaxRetries
	}
}

func (a *app) load(ctx context.Context, out io.Writer, opts loadOptions) error {
	mode := service.Mode(opts.mode)
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q: want standard or patient-history", opts.mode)
	}
	policy := service.FailurePolicy(opts.onError)
	if !policy.Valid() {
		return fmt.Errorf("unknown failure policy %q: want skip or abort", opts.onError)
	}
	if opts.workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", opts.workers)
	}

	// Parse everything before opening the store.
	var (
		total  int
		ingest func(context.Context, *service.BulkIngestor) (service.BatchReport, error)
	)
	switch mode {
	case service.ModePatientHistory:
		histories, err := dataset.LoadHistories(opts.file)
		if err != nil {
			return fmt.Errorf("load dataset: %w", err)
		}
		total = len(histories)
		ingest = func(ctx context.Context, bi *service.BulkIngestor) (service.BatchReport, error) {
			return bi.IngestHistories(ctx, histories)
		}
	default:
		encounters, err := dataset.LoadEncounters(opts.file)
		if err != nil {
			return fmt.Errorf("load dataset: %w", err)
		}
		total = len(encounters)
		ingest = func(ctx context.Context, bi *service.BulkIngestor) (service.BatchReport, error) {
			return bi.IngestEncounters(ctx, encounters)
		}
	}
	a.logger.Info("dataset loaded", "path", opts.file, "mode", mode, "records", total)

	client, err := a.openGraph(ctx)
	if err != nil {
		return err
	}
	defer a.closeGraph(ctx, client)

	if opts.clearFirst {
		if err := client.ClearAll(ctx); err != nil {
			return fmt.Errorf("clear graph: %w", err)
		}
		a.logger.Info("graph cleared before load")
	}

	writerOpts := service.WriterOptions{
		TxTimeout:    opts.txTimeout,
		MaxRetries:   opts.maxRetries,
		RetryBackoff: a.cfg.Ingest.RetryBackoff,
	}
	ingestor := service.NewBulkIngestor(
		service.NewGraphWriter(client, nil, writerOpts, a.logger),
		service.NewHistoryWriter(client, nil, writerOpts, a.logger),
		opts.workers, policy, a.logger,
	)

	report, err := ingest(ctx, ingestor)
	printReport(out, report)
	if err != nil {
		return classifyBatch(report, err)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		a.logger.Warn("reading stats after load failed", "error", err)
		return nil
	}
	printStats(out, stats)
	return nil
}

// classifyBatch assigns the exit code of a failed batch. A batch in which
// nothing committed and every failure was a validation error counts as bad
// input; anything else left the graph partially loaded.
func classifyBatch(report service.BatchReport, err error) error {
	var berr *service.BatchError
	if errors.As(err, &berr) && berr.OnlyValidation() && report.Succeeded == 0 {
		return &exitError{code: exitInvalid, err: err}
	}
	return &exitError{code: exitPartial, err: err}
}

func printReport(w io.Writer, r service.BatchReport) {
	fmt.Fprintf(w, "run %s (%s): %d records, %d committed, %d failed, %d not processed in %s\n",
		r.RunID, r.Mode, r.Total, r.Succeeded, r.Failed, r.Unprocessed, r.Duration.Round(time.Millisecond))
}

func printStats(w io.Writer, s graph.Stats) {
	labels := make([]string, 0, len(s.Nodes))
	for label := range s.Nodes {
		labels = append(labels, string(label))
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Fprintf(w, "%-24s %d\n", label, s.Nodes[graph.Label(label)])
	}

	rels := make([]string, 0, len(s.Edges))
	for rel := range s.Edges {
		rels = append(rels, string(rel))
	}
	sort.Strings(rels)
	for _, rel := range rels {
		fmt.Fprintf(w, "%-24s %d\n", rel, s.Edges[graph.RelType(rel)])
	}
}
