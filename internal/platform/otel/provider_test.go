package otel_test

import (
	"context"
	"testing"

	"github.com/torquehq/engine/internal/platform/otel"
)

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	t.Setenv("ENGINE_OTEL_ENDPOINT", "")
	t.Setenv("ENGINE_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "engine")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	// The no-op shutdown must succeed even under a cancelled context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetupNoopWhenDisabled(t *testing.T) {
	t.Setenv("ENGINE_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("ENGINE_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "engine")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupProviderWithEndpoint(t *testing.T) {
	// Non-routable address so nothing actually exports.
	t.Setenv("ENGINE_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("ENGINE_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "engine")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown should flush cleanly: %v", err)
	}
}
