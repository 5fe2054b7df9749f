package observability

import (
	"testing"

	"github.com/smallbiznis/coursemart/internal/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := LoadConfig(config.Config{Environment: "development"})
	if cfg.ServiceName != "coursemart" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.OtelEnabled {
		t.Fatalf("expected otel disabled without an endpoint")
	}
	if !cfg.Debug() {
		t.Fatalf("expected debug in development")
	}
}

func TestLoadConfigEnablesOtelWithEndpoint(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := LoadConfig(config.Config{Environment: "production"})
	if !cfg.OtelEnabled {
		t.Fatalf("expected otel enabled")
	}
	if cfg.Debug() {
		t.Fatalf("expected no debug in production")
	}
}
