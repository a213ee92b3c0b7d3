package observability

import (
	"context"
	"testing"

	"github.com/duckmesh/sqlagent/internal/config"
)

func TestSetupTracingWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("SetupTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestSetupTracingWithEndpoint(t *testing.T) {
	cfg := config.Config{Service: config.ServiceConfig{Name: "sqlagent-test"}}
	cfg.Observability.OTLPEndpoint = "http://127.0.0.1:1/v1/traces"
	shutdown, err := SetupTracing(context.Background(), cfg)
	if err != nil {
		t.Fatalf("SetupTracing() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
