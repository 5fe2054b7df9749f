package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyKey    = errors.New("lock_key_empty")
	ErrInvalidTTL  = errors.New("lock_ttl_invalid")
	ErrNotAcquired = errors.New("lock_not_acquired")
)

// Locker grants short-lived exclusive leases on a key. The returned token must
// be passed to Release so only the holder can drop the lease.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

const (
	minRetryDelay = 5 * time.Millisecond
	maxRetryDelay = 100 * time.Millisecond
)

// Acquire blocks until the lease is granted or ctx is done.
func Acquire(ctx context.Context, l Locker, key string, ttl time.Duration) (string, error) {
	delay := minRetryDelay
	for {
		token, ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
}

// WithLock runs fn while holding key. The lease is released even when fn fails.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(context.Context) error) error {
	token, err := Acquire(ctx, l, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		_ = l.Release(context.WithoutCancel(ctx), key, token)
	}()
	return fn(ctx)
}

// TryWithLock runs fn only if key is free right now; otherwise it returns
// ErrNotAcquired without waiting.
func TryWithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(context.Context) error) error {
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer func() {
		_ = l.Release(context.WithoutCancel(ctx), key, token)
	}()
	return fn(ctx)
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
