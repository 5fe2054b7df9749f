package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/identity/domain"
	"github.com/smallbiznis/coursemart/internal/lock"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	verificationCodeLength = 8
	lockTTL                = 5 * time.Second
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Cfg    config.Config
	Locker lock.Locker
	Repo   domain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	locker lock.Locker
	repo   domain.Repository
	secret []byte
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("identity.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		locker: p.Locker,
		repo:   p.Repo,
		secret: []byte(p.Cfg.IdentityVerifySecret),
	}
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (domain.UpsertResult, error) {
	email := userdomain.NormalizeEmail(req.Email)
	if !userdomain.ValidEmail(email) {
		return domain.UpsertResult{}, domain.ErrInvalidEmail
	}
	if !req.State.Valid() {
		return domain.UpsertResult{}, domain.ErrInvalidState
	}

	var result domain.UpsertResult
	err := lock.WithLock(ctx, s.locker, "identity:"+email, lockTTL, func(ctx context.Context) error {
		var err error
		result, err = s.merge(ctx, email, req)
		return err
	})
	return result, err
}

func (s *Service) merge(ctx context.Context, email string, req domain.UpsertRequest) (domain.UpsertResult, error) {
	now := s.clock.Now()
	candidate := domain.Identity{
		ID:        s.genID.Generate(),
		Email:     email,
		UserID:    req.UserID,
		State:     req.State,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, &candidate)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	if inserted {
		return domain.UpsertResult{Identity: candidate, Created: true, Changed: true}, nil
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	if existing == nil {
		return domain.UpsertResult{}, domain.ErrNotFound
	}

	if req.State.Rank() < existing.State.Rank() {
		s.log.Info("identity downgrade ignored",
			zap.String("identity_id", existing.ID.String()),
			zap.String("current_state", string(existing.State)),
			zap.String("requested_state", string(req.State)),
		)
		return domain.UpsertResult{Identity: *existing, Ignored: true, Reason: domain.ReasonDowngradeRejected}, nil
	}

	next := *existing
	next.State = req.State
	if next.UserID == nil && req.UserID != nil {
		next.UserID = req.UserID
	}
	if next.State == existing.State && sameUser(next.UserID, existing.UserID) {
		return domain.UpsertResult{Identity: *existing}, nil
	}

	next.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, next.ID, next.UserID, next.State, now); err != nil {
		return domain.UpsertResult{}, err
	}
	return domain.UpsertResult{Identity: next, Changed: true}, nil
}

func sameUser(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Service) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	identity, err := s.repo.FindByEmail(ctx, s.db, userdomain.NormalizeEmail(email))
	if err != nil {
		return domain.Identity{}, err
	}
	if identity == nil {
		return domain.Identity{}, domain.ErrNotFound
	}
	return *identity, nil
}

func (s *Service) GetByUserID(ctx context.Context, userID snowflake.ID) (domain.Identity, error) {
	identity, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return domain.Identity{}, err
	}
	if identity == nil {
		return domain.Identity{}, domain.ErrNotFound
	}
	return *identity, nil
}

func (s *Service) IsVerified(ctx context.Context, email string) (bool, error) {
	identity, err := s.repo.FindByEmail(ctx, s.db, userdomain.NormalizeEmail(email))
	if err != nil || identity == nil {
		return false, err
	}
	return identity.Verified(), nil
}

func (s *Service) IsUserVerified(ctx context.Context, userID snowflake.ID) (bool, error) {
	identity, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil || identity == nil {
		return false, err
	}
	return identity.Verified(), nil
}

func (s *Service) VerificationCode(email string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(userdomain.NormalizeEmail(email)))
	return hex.EncodeToString(mac.Sum(nil))[:verificationCodeLength]
}

func (s *Service) CheckVerificationCode(email, code string) bool {
	expected := s.VerificationCode(email)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(code))))
}
