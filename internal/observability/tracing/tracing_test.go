package tracing

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/coursemart/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSafeAttributesDropsPersonalData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("email", "student@example.com"),
		attribute.String("checkout_id", "42"),
		attribute.String("payload", "{}"),
	)
	if len(attrs) != 1 || attrs[0].Key != "checkout_id" {
		t.Fatalf("expected only checkout_id to survive, got %v", attrs)
	}
}

func TestSafeErrorKeepsOuterMessage(t *testing.T) {
	err := fmt.Errorf("invalid_signature: %w", errors.New("secret mismatch for a@b.c"))
	if got := SafeError(err).Error(); got != "invalid_signature" {
		t.Fatalf("expected invalid_signature, got %q", got)
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestGinMiddlewareTagsRouteActorAndErrorCode(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(GinMiddleware())
	engine.POST("/checkouts/:id/retry", func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "student", "7"))
		_ = c.Error(fmt.Errorf("retry: %w", errors.New("checkout_not_retryable")))
		c.AbortWithStatus(http.StatusConflict)
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkouts/1/retry", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "POST /checkouts/:id/retry" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["coursemart.error_code"].AsString(); got != "checkout_not_retryable" {
		t.Fatalf("expected error code attribute, got %q", got)
	}
	if got := attrs["coursemart.actor_type"].AsString(); got != "student" {
		t.Fatalf("expected actor type attribute, got %q", got)
	}
}
