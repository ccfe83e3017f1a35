package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vanshika/clinigraph/internal/config"
	"github.com/vanshika/clinigraph/internal/graph"
	"github.com/vanshika/clinigraph/internal/logging"
	"github.com/vanshika/clinigraph/internal/service"
)

// Process exit codes.
const (
	exitOK          = 0
	exitInvalid     = 1
	exitUnreachable = 2
	exitPartial     = 3
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ingest",
		Short:         "Load clinical encounter records into a property graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			a.logger = logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging).With("component", "ingest")
			return nil
		},
	}

	root.AddCommand(newLoadCmd(a), newClearCmd(a), newStatsCmd(a))
	return root
}

// openGraph connects to the configured store and installs the key constraints.
func (a *app) openGraph(ctx context.Context) (graph.Client, error) {
	client, err := graph.Open(ctx, a.cfg.Graph, a.cfg.Ingest.TxTimeout)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureSchema(ctx, service.KeyConstraints()); err != nil {
		_ = client.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if a.cfg.Graph.Backend == config.BackendMemory {
		a.logger.Warn("memory backend selected; the graph is discarded on exit")
	}
	a.logger.Info("connected to graph", "backend", a.cfg.Graph.Backend, "uri", a.cfg.Graph.URI, "database", a.cfg.Graph.Database)
	return client, nil
}

func (a *app) closeGraph(ctx context.Context, client graph.Client) {
	if err := client.Close(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("closing graph client failed", "error", err)
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every node and relationship from the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := a.openGraph(ctx)
			if err != nil {
				return err
			}
			defer a.closeGraph(ctx, client)

			if err := client.ClearAll(ctx); err != nil {
				return fmt.Errorf("clear graph: %w", err)
			}
			a.logger.Info("graph cleared")
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print node and relationship counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := a.openGraph(ctx)
			if err != nil {
				return err
			}
			defer a.closeGraph(ctx, client)

			stats, err := client.Stats(ctx)
			if err != nil {
				return fmt.Errorf("read stats: %w", err)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

// exitError pins the process exit code for err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error onto the documented exit codes. An
// unreachable store wins over every other classification.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cerr *graph.ConnectionError
	if errors.As(err, &cerr) {
		return exitUnreachable
	}
	var eerr *exitError
	if errors.As(err, &eerr) {
		return eerr.code
	}
	return exitInvalid
}
