package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/idempotency/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxKeyLength = 255

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Policy *config.PolicyConfigHolder
	Repo   domain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	policy *config.PolicyConfigHolder
	repo   domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("idempotency.service"),
		clock:  p.Clock,
		policy: p.Policy,
		repo:   p.Repo,
	}
}

func (s *Service) Lookup(ctx context.Context, fp domain.Fingerprint) (*domain.Record, error) {
	if err := validateKey(fp.Key); err != nil {
		return nil, err
	}
	record, err := s.repo.Find(ctx, s.db, fp.Key)
	if err != nil || record == nil {
		return nil, err
	}
	if !record.ExpiresAt.After(s.clock.Now()) {
		if err := s.repo.Delete(ctx, s.db, fp.Key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if !record.Matches(fp) {
		s.log.Warn("idempotency key reused for a different request",
			zap.String("key", fp.Key),
			zap.String("method", fp.Method),
			zap.String("path", fp.Path),
		)
		return nil, domain.ErrConflict
	}
	return record, nil
}

func (s *Service) Save(ctx context.Context, fp domain.Fingerprint, resp domain.Response) error {
	if err := validateKey(fp.Key); err != nil {
		return err
	}
	now := s.clock.Now()
	record := domain.Record{
		Key:          fp.Key,
		Method:       fp.Method,
		Path:         fp.Path,
		BodyHash:     fp.BodyHash,
		StatusCode:   resp.StatusCode,
		ContentType:  resp.ContentType,
		ResponseBody: resp.Body,
		ExpiresAt:    now.Add(s.policy.Get().Idempotency.TTL),
		CreatedAt:    now,
	}
	if record.ResponseBody == nil {
		record.ResponseBody = []byte{}
	}
	inserted, err := s.repo.Insert(ctx, s.db, &record)
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug("idempotency record already stored", zap.String("key", fp.Key))
	}
	return nil
}

func (s *Service) Prune(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.db, s.clock.Now())
}

func validateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > maxKeyLength {
		return domain.ErrInvalidKey
	}
	return nil
}
