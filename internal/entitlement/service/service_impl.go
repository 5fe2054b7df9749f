package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/entitlement/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	"github.com/smallbiznis/coursemart/internal/lock"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockTTL = 10 * time.Second

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Locker    lock.Locker
	Repo      domain.Repository
	Identity  identitydomain.Service
	Purchases purchasedomain.Service
	Users     userdomain.Service
	Outbox    outboxdomain.Service
	Catalog   catalogdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	locker    lock.Locker
	repo      domain.Repository
	identity  identitydomain.Service
	purchases purchasedomain.Service
	users     userdomain.Service
	outbox    outboxdomain.Service
	catalog   catalogdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("entitlement.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		locker:    p.Locker,
		repo:      p.Repo,
		identity:  p.Identity,
		purchases: p.Purchases,
		users:     p.Users,
		outbox:    p.Outbox,
		catalog:   p.Catalog,
	}
}

func lockKey(userID, courseID snowflake.ID) string {
	return fmt.Sprintf("entitlement:%s:%s", userID, courseID)
}

func (s *Service) UpsertCourseEntitlement(ctx context.Context, req domain.UpsertCourseRequest) (domain.Entitlement, error) {
	if req.UserID == 0 || req.CourseID == 0 {
		return domain.Entitlement{}, domain.ErrInvalidRequest
	}
	if req.SourceType == "" {
		req.SourceType = domain.SourceCheckout
	}
	if req.Activate {
		if err := s.requireVerified(ctx, req.UserID); err != nil {
			return domain.Entitlement{}, err
		}
	}

	var result domain.Entitlement
	err := lock.WithLock(ctx, s.locker, lockKey(req.UserID, req.CourseID), lockTTL, func(ctx context.Context) error {
		var err error
		result, err = s.upsert(ctx, domain.KindCourseAccess, req)
		return err
	})
	return result, err
}

func (s *Service) upsert(ctx context.Context, kind domain.Kind, req domain.UpsertCourseRequest) (domain.Entitlement, error) {
	now := s.clock.Now()
	existing, err := s.repo.FindLive(ctx, s.db, req.UserID, kind, req.CourseID)
	if err != nil {
		return domain.Entitlement{}, err
	}

	if existing == nil {
		courseID := req.CourseID
		ent := domain.Entitlement{
			ID:         s.genID.Generate(),
			UserID:     req.UserID,
			Kind:       kind,
			State:      domain.StatePendingActivation,
			SourceType: req.SourceType,
			SourceID:   req.SourceID,
			CourseID:   &courseID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if req.Activate {
			ent.State = domain.StateActive
			ent.ActivatedAt = &now
		}
		if err := s.repo.Insert(ctx, s.db, &ent); err != nil {
			return domain.Entitlement{}, err
		}
		s.log.Info("entitlement created",
			zap.String("entitlement_id", ent.ID.String()),
			zap.String("kind", string(kind)),
			zap.String("state", string(ent.State)),
		)
		return ent, nil
	}

	ent := *existing
	if req.Activate && ent.State != domain.StateActive {
		if err := domain.Transition(ent.State, domain.StateActive); err != nil {
			return domain.Entitlement{}, err
		}
		moved, err := s.repo.UpdateState(ctx, s.db, ent.ID, ent.State, domain.StateActive, now)
		if err != nil {
			return domain.Entitlement{}, err
		}
		if !moved {
			return domain.Entitlement{}, domain.ErrConcurrentUpdate
		}
		ent.State = domain.StateActive
		ent.ActivatedAt = &now
	}
	if err := s.repo.UpdateSource(ctx, s.db, ent.ID, req.SourceType, req.SourceID, now); err != nil {
		return domain.Entitlement{}, err
	}
	ent.SourceType = req.SourceType
	ent.SourceID = req.SourceID
	ent.UpdatedAt = now
	return ent, nil
}

func (s *Service) requireVerified(ctx context.Context, userID snowflake.ID) error {
	verified, err := s.identity.IsUserVerified(ctx, userID)
	if err != nil {
		return err
	}
	if !verified {
		return domain.ErrIdentityUnverified
	}
	return nil
}

func (s *Service) ActivatePendingEntitlements(ctx context.Context, userID snowflake.ID) (int64, error) {
	if err := s.requireVerified(ctx, userID); err != nil {
		return 0, err
	}
	activated, err := s.repo.ActivatePending(ctx, s.db, userID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if activated > 0 {
		s.log.Info("pending entitlements activated", zap.String("user_id", userID.String()), zap.Int64("count", activated))
	}
	return activated, nil
}

func (s *Service) GrantBookingTrial(ctx context.Context, userID, courseID, bookingID snowflake.ID) (domain.Entitlement, error) {
	if userID == 0 || courseID == 0 || bookingID == 0 {
		return domain.Entitlement{}, domain.ErrInvalidRequest
	}
	verified, err := s.identity.IsUserVerified(ctx, userID)
	if err != nil {
		return domain.Entitlement{}, err
	}

	var result domain.Entitlement
	err = lock.WithLock(ctx, s.locker, lockKey(userID, courseID), lockTTL, func(ctx context.Context) error {
		var err error
		result, err = s.upsert(ctx, domain.KindTrialAccessLimited, domain.UpsertCourseRequest{
			UserID:     userID,
			CourseID:   courseID,
			SourceType: domain.SourceBooking,
			SourceID:   bookingID,
			Activate:   verified,
		})
		return err
	})
	return result, err
}

func (s *Service) RevokeCourseAccess(ctx context.Context, userID, courseID snowflake.ID, reason string) (domain.RevokeResult, error) {
	var result domain.RevokeResult
	err := lock.WithLock(ctx, s.locker, lockKey(userID, courseID), lockTTL, func(ctx context.Context) error {
		existing, err := s.repo.FindLive(ctx, s.db, userID, domain.KindCourseAccess, courseID)
		if err != nil {
			return err
		}
		if existing != nil {
			revoked, err := s.revoke(ctx, *existing)
			if err != nil {
				return err
			}
			result.Entitlement = &revoked
		}
		removed, err := s.purchases.RemoveAccessData(ctx, userID, courseID)
		if err != nil {
			return err
		}
		result.PurchasesRemoved = removed
		return nil
	})
	if err != nil {
		return domain.RevokeResult{}, err
	}

	s.log.Warn("course access revoked",
		zap.String("user_id", userID.String()),
		zap.String("course_id", courseID.String()),
		zap.String("reason", reason),
		zap.Int64("purchases_removed", result.PurchasesRemoved),
	)
	if result.Entitlement != nil {
		s.notifyRevoked(ctx, *result.Entitlement, reason)
	}
	return result, nil
}

func (s *Service) revoke(ctx context.Context, ent domain.Entitlement) (domain.Entitlement, error) {
	if err := domain.Transition(ent.State, domain.StateRevoked); err != nil {
		return domain.Entitlement{}, err
	}
	now := s.clock.Now()
	moved, err := s.repo.UpdateState(ctx, s.db, ent.ID, ent.State, domain.StateRevoked, now)
	if err != nil {
		return domain.Entitlement{}, err
	}
	if !moved {
		return domain.Entitlement{}, domain.ErrConcurrentUpdate
	}
	ent.State = domain.StateRevoked
	ent.RevokedAt = &now
	ent.UpdatedAt = now
	return ent, nil
}

func (s *Service) RevokeBookingEntitlements(ctx context.Context, bookingID snowflake.ID) (int, error) {
	items, err := s.repo.ListBySource(ctx, s.db, domain.SourceBooking, bookingID)
	if err != nil {
		return 0, err
	}
	revoked := 0
	for _, ent := range items {
		if ent.State == domain.StateRevoked {
			continue
		}
		if _, err := s.revoke(ctx, ent); err != nil {
			return revoked, err
		}
		if ent.CourseID != nil && ent.Kind == domain.KindCourseAccess {
			if _, err := s.purchases.RemoveAccessData(ctx, ent.UserID, *ent.CourseID); err != nil {
				return revoked, err
			}
		}
		revoked++
	}
	return revoked, nil
}

func (s *Service) notifyRevoked(ctx context.Context, ent domain.Entitlement, reason string) {
	user, err := s.users.GetByID(ctx, ent.UserID)
	if err != nil {
		s.log.Warn("revocation notice skipped", zap.String("entitlement_id", ent.ID.String()), zap.Error(err))
		return
	}
	title := ""
	if ent.CourseID != nil {
		title = ent.CourseID.String()
		if course, err := s.catalog.GetCourse(ctx, *ent.CourseID); err == nil {
			title = course.Title
		}
	}
	_, err = s.outbox.Enqueue(ctx, outboxdomain.EnqueueRequest{
		Template:       outboxdomain.TemplateAccessRevoked,
		DedupeKey:      "access_revoked:" + ent.ID.String(),
		RecipientEmail: user.Email,
		Data:           map[string]any{"courseTitle": title, "reason": reason},
	})
	if err != nil {
		s.log.Warn("revocation notice enqueue failed", zap.String("entitlement_id", ent.ID.String()), zap.Error(err))
	}
}

func (s *Service) FindCourseEntitlement(ctx context.Context, userID, courseID snowflake.ID) (*domain.Entitlement, error) {
	return s.repo.FindLive(ctx, s.db, userID, domain.KindCourseAccess, courseID)
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Entitlement, error) {
	return s.repo.List(ctx, s.db, filter)
}
