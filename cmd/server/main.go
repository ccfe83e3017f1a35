package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vanshika/clinigraph/internal/config"
	"github.com/vanshika/clinigraph/internal/graph"
	"github.com/vanshika/clinigraph/internal/logging"
	"github.com/vanshika/clinigraph/internal/metrics"
	"github.com/vanshika/clinigraph/internal/server"
	"github.com/vanshika/clinigraph/internal/service"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:          "server",
		Short:        "Serve the clinical graph ingestion API",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.Logging)

	graphClient, err := graph.Open(ctx, cfg.Graph, cfg.Ingest.TxTimeout)
	if err != nil {
		return fmt.Errorf("failed to create graph client: %w", err)
	}
	defer func() {
		if err := graphClient.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}()
	if err := graphClient.EnsureSchema(ctx, service.KeyConstraints()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	var (
		recorder      *metrics.Recorder
		metricHandler http.Handler
	)
	if cfg.HTTP.MetricsEnabled {
		recorder = metrics.New()
		metricHandler = recorder.Handler()
	}

	writerOpts := service.WriterOptions{
		TxTimeout:    cfg.Ingest.TxTimeout,
		MaxRetries:   cfg.Ingest.MaxRetries,
		RetryBackoff: cfg.Ingest.RetryBackoff,
	}
	apiHandlers := server.NewAPIHandlers(logger,
		service.NewGraphWriter(graphClient, nil, writerOpts, logger).WithMetrics(recorder),
		service.NewHistoryWriter(graphClient, nil, writerOpts, logger).WithMetrics(recorder),
		graphClient,
	)

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:         server.GraphHealthService{Client: graphClient, Name: cfg.Graph.Backend},
		API:            apiHandlers,
		Metrics:        metricHandler,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	srv := server.New(logger, cfg.HTTP, router)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
