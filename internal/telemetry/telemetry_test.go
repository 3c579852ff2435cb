package telemetry

import (
	"context"
	"testing"
)

func TestSetup_EmptyEndpoint(t *testing.T) {
	if _, err := Setup(context.Background(), Config{}); err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestProvider_NilShutdown(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil provider: %v", err)
	}
}

func TestProtocolName(t *testing.T) {
	if protocolName("http") != "http" || protocolName("") != "grpc" || protocolName("bogus") != "grpc" {
		t.Error("unexpected protocol mapping")
	}
}
