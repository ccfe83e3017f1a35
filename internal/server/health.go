package server

import (
	"context"

	"github.com/vanshika/clinigraph/internal/graph"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
	Backend() string
}

// GraphHealthService verifies graph store connectivity as part of health checks.
type GraphHealthService struct {
	Client graph.Client
	Name   string
}

// Probe implements the HealthService interface.
func (s GraphHealthService) Probe(ctx context.Context) error {
	if s.Client == nil {
		return nil
	}
	return s.Client.VerifyConnectivity(ctx)
}

// Backend names the configured graph backend.
func (s GraphHealthService) Backend() string {
	return s.Name
}
