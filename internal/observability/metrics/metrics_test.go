package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "card"),
		attribute.String("checkout_id", "456"),
		attribute.String("email", "a@b.c"),
		attribute.String("outcome", "applied"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "checkout_id" || attr.Key == "email" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordPaymentEvent(context.Background(), "card", "applied")
	m.RecordCheckoutTransition(context.Background(), "created", "paid")
	m.RecordOutboxDelivery(context.Background(), "purchase_confirmation", "sent")
	m.RecordReconciliationIssue(context.Background(), "paid_without_access", "high")
	m.RecordIdempotencyReplay(context.Background(), "/checkout")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "coursemart"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordPaymentEvent(context.Background(), "card", "duplicate")
}
