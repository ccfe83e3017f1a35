package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/vanshika/clinigraph/internal/config"
)

// Open builds the client selected by cfg.Backend. The caller owns the
// returned client and must Close it.
func Open(ctx context.Context, cfg config.GraphConfig, txTimeout time.Duration) (Client, error) {
	switch cfg.Backend {
	case config.BackendNeo4j:
		return NewNeo4jClient(ctx, Options{
			URI:            cfg.URI,
			Database:       cfg.Database,
			Username:       cfg.Username,
			Password:       cfg.Password,
			MaxConnections: cfg.MaxConnections,
			Dialect:        Dialect(cfg.Dialect),
			TxTimeout:      txTimeout,
		})
	case config.BackendSQLite:
		return NewSQLiteClient(ctx, cfg.SQLitePath)
	case config.BackendMemory:
		return NewMemoryClient(), nil
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.Backend)
	}
}
