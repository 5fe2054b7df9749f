package card

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
)

func newAdapter(t *testing.T, now time.Time) paymentdomain.PaymentAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Secret:    "card_test",
		Tolerance: 5 * time.Minute,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func signedHeaders(secret string, ts int64, payload []byte) http.Header {
	h := http.Header{}
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderSignature, Sign(secret, ts, payload))
	return h
}

func TestVerifySignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := newAdapter(t, now)
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded","checkoutId":"42"}`)

	if err := adapter.Verify(context.Background(), payload, signedHeaders("card_test", now.Unix(), payload)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	tests := []struct {
		name    string
		headers http.Header
	}{
		{name: "wrong secret", headers: signedHeaders("other", now.Unix(), payload)},
		{name: "stale timestamp", headers: signedHeaders("card_test", now.Add(-time.Hour).Unix(), payload)},
		{name: "missing headers", headers: http.Header{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := adapter.Verify(context.Background(), payload, tt.headers)
			if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
				t.Fatalf("expected invalid signature, got %v", err)
			}
		})
	}

	tampered := []byte(`{"id":"evt_1","type":"payment.succeeded","checkoutId":"43"}`)
	if err := adapter.Verify(context.Background(), tampered, signedHeaders("card_test", now.Unix(), payload)); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected tampered body to fail, got %v", err)
	}
}

func TestParseEvent(t *testing.T) {
	adapter := newAdapter(t, time.Now())
	tests := []struct {
		eventType string
		want      checkoutdomain.Status
	}{
		{"payment.pending", checkoutdomain.StatusAwaitingPayment},
		{"payment.succeeded", checkoutdomain.StatusPaid},
		{"payment.failed", checkoutdomain.StatusFailed},
		{"payment.refunded", checkoutdomain.StatusCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			payload := []byte(`{"id":"evt_9","type":"` + tt.eventType + `","checkoutId":"1234","created":1767225600}`)
			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if event.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, event.Status)
			}
			if event.CheckoutID.Int64() != 1234 || event.ExternalEventID != "evt_9" {
				t.Fatalf("unexpected event %+v", event)
			}
			if !event.OccurredAt.Equal(time.Unix(1767225600, 0)) {
				t.Fatalf("unexpected occurredAt %s", event.OccurredAt)
			}
		})
	}

	if _, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_x","type":"customer.updated","checkoutId":"1"}`)); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored, got %v", err)
	}
	if _, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_x","type":"payment.succeeded","checkoutId":"abc"}`)); !errors.Is(err, paymentdomain.ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
}

func TestFactoryRequiresSecret(t *testing.T) {
	if _, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{}); !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}
