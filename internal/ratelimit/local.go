package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxLocalKeys = 10000

// Local keeps one token bucket per key in memory.
type Local struct {
	mu      sync.Mutex
	now     func() time.Time
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func NewLocal(perSecond float64, burst int, now func() time.Time) *Local {
	if now == nil {
		now = time.Now
	}
	return &Local{
		now:     now,
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *Local) Allow(_ context.Context, key string) (Result, error) {
	if err := validate(key, float64(l.limit), l.burst); err != nil {
		return Result{}, err
	}

	now := l.now()
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxLocalKeys {
			l.evictFull(now)
		}
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	allowed := bucket.AllowN(now, 1)
	remaining := bucket.TokensAt(now)
	result := Result{
		Allowed:   allowed,
		Limit:     l.burst,
		Remaining: int(remaining),
	}
	if !allowed {
		result.RetryAfter = retryAfter(remaining, float64(l.limit))
	}
	return result, nil
}

// evictFull drops buckets that refilled completely; they carry no state.
func (l *Local) evictFull(now time.Time) {
	for key, bucket := range l.buckets {
		if bucket.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}
