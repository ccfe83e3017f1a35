package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/vanshika/clinigraph/internal/config"
)

func TestServerRunStopsOnCancel(t *testing.T) {
	cfg := config.HTTPConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}
	srv := New(discardLogger(), cfg, http.NotFoundHandler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}
