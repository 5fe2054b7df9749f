package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/coursemart/internal/clock"
)

func TestLocalLimiterRefills(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	limiter := NewLocal(1, 2, clk.Now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "checkout:10.0.0.1")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}

	res, err := limiter.Allow(ctx, "checkout:10.0.0.1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected burst to be exhausted")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Second {
		t.Fatalf("unexpected retry after %s", res.RetryAfter)
	}

	other, err := limiter.Allow(ctx, "checkout:10.0.0.2")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !other.Allowed {
		t.Fatalf("expected separate budget per key")
	}

	clk.Advance(time.Second)
	res, err = limiter.Allow(ctx, "checkout:10.0.0.1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected a token after refill")
	}
}

func TestPublicLimiterNilAllows(t *testing.T) {
	var limiter *PublicLimiter
	res, err := limiter.Allow(context.Background(), "identity_confirm", "10.0.0.1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected disabled limiter to allow")
	}
}

func TestLocalLimiterRejectsEmptyKey(t *testing.T) {
	limiter := NewLocal(1, 1, nil)
	if _, err := limiter.Allow(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
