package telemetry

import (
	"testing"

	"github.com/pithecene-io/dispipe/log"
)

func TestInitTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing(t.Context(), TracingConfig{ServiceName: "dispipe"}, log.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracing_WithEndpoint(t *testing.T) {
	// The gRPC exporter connects lazily, so an unreachable endpoint still
	// yields a working provider.
	shutdown, err := InitTracing(t.Context(), TracingConfig{
		Endpoint:       "127.0.0.1:1",
		Insecure:       true,
		ServiceName:    "dispipe",
		ServiceVersion: "test",
	}, log.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	_ = shutdown(t.Context())
}
