package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "checkout:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "checkout:1", time.Minute); ok {
		t.Fatalf("expected second lock to fail")
	}
	if err := l.Release(ctx, "checkout:1", "someone-else"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := l.TryLock(ctx, "checkout:1", time.Minute); ok {
		t.Fatalf("foreign token must not release the lease")
	}
	_ = l.Release(ctx, "checkout:1", token)
	if _, ok, _ := l.TryLock(ctx, "checkout:1", time.Minute); !ok {
		t.Fatalf("expected lock after release")
	}
}

func TestLocalLockerExpiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if _, ok, _ := l.TryLock(context.Background(), "k", time.Second); !ok {
		t.Fatalf("expected lock")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := l.TryLock(context.Background(), "k", time.Second); !ok {
		t.Fatalf("expected expired lease to be taken over")
	}
}

func TestTryWithLockNotAcquired(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()
	if _, ok, _ := l.TryLock(ctx, "job", time.Minute); !ok {
		t.Fatalf("expected lock")
	}
	called := false
	err := TryWithLock(ctx, l, "job", time.Minute, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNotAcquired) || called {
		t.Fatalf("expected ErrNotAcquired without running fn, err=%v called=%v", err, called)
	}
}

func TestWithLockWaitsForRelease(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()
	token, _, _ := l.TryLock(ctx, "k", time.Minute)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = l.Release(ctx, "k", token)
	}()

	ran := false
	if err := WithLock(ctx, l, "k", time.Minute, func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if !ran {
		t.Fatalf("expected fn to run")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l := NewLocalLocker()
	_, _, _ = l.TryLock(context.Background(), "k", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := Acquire(ctx, l, "k", time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	l := NewLocalLocker()
	if _, _, err := l.TryLock(context.Background(), "", time.Second); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if _, _, err := l.TryLock(context.Background(), "k", 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}
