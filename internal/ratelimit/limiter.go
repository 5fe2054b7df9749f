package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/coursemart/internal/config"
	"go.uber.org/zap"
)

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether one more request for key fits its budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// PublicLimiter guards the unauthenticated write endpoints. A nil
// *PublicLimiter allows everything.
type PublicLimiter struct {
	limiter Limiter
}

func NewPublicLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*PublicLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if limitCfg.PublicRate <= 0 || limitCfg.PublicBurst <= 0 {
		return nil, errors.New("public rate limit must be positive")
	}

	if client != nil {
		log.Info("using redis rate limiter",
			zap.Float64("rate", limitCfg.PublicRate),
			zap.Int("burst", limitCfg.PublicBurst),
		)
		return &PublicLimiter{
			limiter: NewTokenBucket(client, cfg.AppName+":ratelimit:public:", limitCfg.PublicRate, limitCfg.PublicBurst),
		}, nil
	}
	log.Info("using in-process rate limiter",
		zap.Float64("rate", limitCfg.PublicRate),
		zap.Int("burst", limitCfg.PublicBurst),
	)
	return &PublicLimiter{
		limiter: NewLocal(limitCfg.PublicRate, limitCfg.PublicBurst, time.Now),
	}, nil
}

func NewPublicLimiterWith(limiter Limiter) *PublicLimiter {
	return &PublicLimiter{limiter: limiter}
}

func (l *PublicLimiter) Enabled() bool {
	return l != nil && l.limiter != nil
}

// Allow budgets requests per endpoint and client.
func (l *PublicLimiter) Allow(ctx context.Context, endpoint, client string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := strings.TrimSpace(endpoint) + ":" + strings.TrimSpace(client)
	return l.limiter.Allow(ctx, key)
}

func validate(key string, rate float64, burst int) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("rate limiter key is empty")
	}
	if rate <= 0 {
		return errors.New("rate limiter rate must be positive")
	}
	if burst <= 0 {
		return errors.New("rate limiter burst must be positive")
	}
	return nil
}
