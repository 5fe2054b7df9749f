package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	"github.com/smallbiznis/coursemart/internal/checkout/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	entitlementdomain "github.com/smallbiznis/coursemart/internal/entitlement/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	"github.com/smallbiznis/coursemart/internal/lock"
	"github.com/smallbiznis/coursemart/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockTTL = 15 * time.Second

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Policy       *config.PolicyConfigHolder
	Locker       lock.Locker
	Repo         domain.Repository
	Identity     identitydomain.Service
	Entitlements entitlementdomain.Service
	Purchases    purchasedomain.Service
	Catalog      catalogdomain.Service
	Outbox       outboxdomain.Service
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	policy       *config.PolicyConfigHolder
	locker       lock.Locker
	repo         domain.Repository
	identity     identitydomain.Service
	entitlements entitlementdomain.Service
	purchases    purchasedomain.Service
	catalog      catalogdomain.Service
	outbox       outboxdomain.Service
	metrics      *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("checkout.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		policy:       p.Policy,
		locker:       p.Locker,
		repo:         p.Repo,
		identity:     p.Identity,
		entitlements: p.Entitlements,
		purchases:    p.Purchases,
		catalog:      p.Catalog,
		outbox:       p.Outbox,
		metrics:      p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Checkout, error) {
	email := userdomain.NormalizeEmail(req.Email)
	if !userdomain.ValidEmail(email) {
		return domain.Checkout{}, domain.ErrInvalidEmail
	}
	if !req.Method.Valid() {
		return domain.Checkout{}, domain.ErrInvalidMethod
	}
	if req.Amount <= 0 {
		return domain.Checkout{}, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	checkout := domain.Checkout{
		ID:             id,
		IdempotencyKey: domain.IdempotencyKey(email, req.CourseID, id),
		UserID:         req.UserID,
		Email:          email,
		CourseID:       req.CourseID,
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		Method:         req.Method,
		Status:         domain.StatusCreated,
		ExpiresAt:      now.Add(s.policy.Get().Checkout.TTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Method == domain.MethodBnpl {
		checkout.BnplInstallmentsCount = req.BnplInstallmentsCount
	}
	if err := s.repo.Insert(ctx, s.db, &checkout); err != nil {
		return domain.Checkout{}, err
	}
	s.log.Info("checkout created",
		zap.String("checkout_id", checkout.ID.String()),
		zap.String("course_id", checkout.CourseID.String()),
		zap.String("method", string(checkout.Method)),
	)
	return checkout, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Checkout, error) {
	checkout, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Checkout{}, err
	}
	if checkout == nil {
		return domain.Checkout{}, domain.ErrNotFound
	}
	return *checkout, nil
}

func (s *Service) Find(ctx context.Context, id snowflake.ID) (*domain.Checkout, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) FindActive(ctx context.Context, email string, courseID snowflake.ID) (*domain.Checkout, error) {
	return s.repo.FindActiveByKeyPrefix(ctx, s.db, domain.KeyPrefix(email, courseID))
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Checkout, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) ListExpired(ctx context.Context, limit int) ([]domain.Checkout, error) {
	return s.repo.ListExpired(ctx, s.db, s.clock.Now(), limit)
}

func (s *Service) ListDueForSettlement(ctx context.Context, method domain.Method, limit int) ([]domain.Checkout, error) {
	policy := s.policy.Get().Checkout
	var delay time.Duration
	switch method {
	case domain.MethodCard:
		delay = policy.CardSettleDelay
	case domain.MethodSBP:
		delay = policy.SBPSettleDelay
	default:
		return nil, nil
	}
	return s.repo.ListAwaiting(ctx, s.db, method, s.clock.Now().Add(-delay), limit)
}

func (s *Service) ApplyStatus(ctx context.Context, checkoutID snowflake.ID, status domain.Status) (domain.ApplyResult, error) {
	checkout, err := s.Get(ctx, checkoutID)
	if err != nil {
		return domain.ApplyResult{}, err
	}

	steps, outcome, err := domain.PlanEvent(checkout.Status, status)
	if err != nil {
		s.log.Warn("illegal checkout transition",
			zap.String("checkout_id", checkout.ID.String()),
			zap.String("from", string(checkout.Status)),
			zap.String("to", string(status)),
		)
		return domain.ApplyResult{}, err
	}

	result := domain.ApplyResult{From: checkout.Status, Outcome: outcome}
	for _, step := range steps {
		checkout, err = s.move(ctx, checkout, step)
		if err != nil {
			return domain.ApplyResult{}, err
		}
	}

	if outcome == domain.OutcomeApplied && checkout.Status == domain.StatusPaid {
		checkout = s.provision(ctx, checkout)
	}
	result.Checkout = checkout
	return result, nil
}

func (s *Service) move(ctx context.Context, checkout domain.Checkout, to domain.Status) (domain.Checkout, error) {
	if !domain.CanTransition(checkout.Status, to) {
		return checkout, &domain.TransitionError{From: checkout.Status, To: to}
	}
	now := s.clock.Now()
	ok, err := s.repo.CompareAndSetStatus(ctx, s.db, checkout.ID, checkout.Status, to, now)
	if err != nil {
		return checkout, err
	}
	if !ok {
		return checkout, domain.ErrConcurrentUpdate
	}
	s.metrics.RecordCheckoutTransition(ctx, string(checkout.Status), string(to))
	s.log.Info("checkout transition",
		zap.String("checkout_id", checkout.ID.String()),
		zap.String("from", string(checkout.Status)),
		zap.String("to", string(to)),
	)

	checkout.Status = to
	checkout.UpdatedAt = now
	switch to {
	case domain.StatusPaid:
		checkout.PaidAt = &now
	case domain.StatusProvisioned:
		checkout.ProvisionedAt = &now
	}
	return checkout, nil
}

// provision grants access for a captured checkout. Failures leave the
// checkout in provisioning; reconciliation picks them up as
// paid_without_access.
func (s *Service) provision(ctx context.Context, checkout domain.Checkout) domain.Checkout {
	updated, err := s.tryProvision(ctx, checkout)
	if err != nil {
		s.log.Warn("provisioning failed",
			zap.String("checkout_id", checkout.ID.String()),
			zap.String("status", string(updated.Status)),
			zap.Error(err),
		)
	}
	return updated
}

func (s *Service) tryProvision(ctx context.Context, checkout domain.Checkout) (domain.Checkout, error) {
	var err error
	if checkout.Status == domain.StatusPaid {
		checkout, err = s.move(ctx, checkout, domain.StatusProvisioning)
		if err != nil {
			return checkout, err
		}
	}
	if checkout.Status != domain.StatusProvisioning || checkout.UserID == nil {
		return checkout, nil
	}
	userID := *checkout.UserID

	verified, err := s.identity.IsUserVerified(ctx, userID)
	if err != nil {
		return checkout, err
	}
	if _, err := s.entitlements.UpsertCourseEntitlement(ctx, entitlementdomain.UpsertCourseRequest{
		UserID:     userID,
		CourseID:   checkout.CourseID,
		SourceType: entitlementdomain.SourceCheckout,
		SourceID:   checkout.ID,
		Activate:   verified,
	}); err != nil {
		return checkout, err
	}
	if !verified {
		s.log.Info("provisioning waits for identity verification", zap.String("checkout_id", checkout.ID.String()))
		return checkout, nil
	}

	installments := 0
	if checkout.BnplInstallmentsCount != nil {
		installments = *checkout.BnplInstallmentsCount
	}
	checkoutID := checkout.ID
	purchase, _, err := s.purchases.Materialize(ctx, purchasedomain.MaterializeRequest{
		UserID:           userID,
		CourseID:         checkout.CourseID,
		CheckoutID:       &checkoutID,
		Price:            checkout.Amount,
		Currency:         checkout.Currency,
		PaymentMethod:    string(checkout.Method),
		BnplInstallments: installments,
	})
	if err != nil {
		return checkout, err
	}

	checkout, err = s.move(ctx, checkout, domain.StatusProvisioned)
	if err != nil {
		return checkout, err
	}
	s.notifyProvisioned(ctx, checkout, purchase)
	return checkout, nil
}

func (s *Service) notifyProvisioned(ctx context.Context, checkout domain.Checkout, purchase purchasedomain.Purchase) {
	_, err := s.outbox.Enqueue(ctx, outboxdomain.EnqueueRequest{
		Template:       outboxdomain.TemplatePurchaseConfirmation,
		DedupeKey:      "purchase_confirmation:" + checkout.ID.String(),
		RecipientEmail: checkout.Email,
		Data: map[string]any{
			"courseTitle": purchase.CourseSnapshot.Data().Title,
			"amount":      checkout.Amount,
			"currency":    checkout.Currency,
			"purchaseId":  purchase.ID.String(),
		},
	})
	if err != nil {
		s.log.Warn("purchase confirmation enqueue failed", zap.String("checkout_id", checkout.ID.String()), zap.Error(err))
	}
}

func (s *Service) ResumeProvisioning(ctx context.Context, checkoutID snowflake.ID) (domain.Checkout, error) {
	var result domain.Checkout
	err := lock.WithLock(ctx, s.locker, domain.LockKey(checkoutID), lockTTL, func(ctx context.Context) error {
		checkout, err := s.Get(ctx, checkoutID)
		if err != nil {
			return err
		}
		if checkout.Status == domain.StatusPaid || checkout.Status == domain.StatusProvisioning {
			checkout, err = s.tryProvision(ctx, checkout)
			if err != nil {
				return err
			}
		}
		result = checkout
		return nil
	})
	return result, err
}

func (s *Service) AttachUser(ctx context.Context, checkoutID, userID snowflake.ID) (domain.Checkout, error) {
	var result domain.Checkout
	err := lock.WithLock(ctx, s.locker, domain.LockKey(checkoutID), lockTTL, func(ctx context.Context) error {
		checkout, err := s.Get(ctx, checkoutID)
		if err != nil {
			return err
		}
		if checkout.UserID != nil && *checkout.UserID == userID {
			result = checkout
			return nil
		}
		now := s.clock.Now()
		if err := s.repo.AttachUser(ctx, s.db, checkout.ID, userID, now); err != nil {
			return err
		}
		checkout.UserID = &userID
		checkout.UpdatedAt = now
		result = checkout
		return nil
	})
	return result, err
}

func (s *Service) ResetExpiry(ctx context.Context, checkoutID snowflake.ID) (domain.Checkout, error) {
	checkout, err := s.Get(ctx, checkoutID)
	if err != nil {
		return domain.Checkout{}, err
	}
	now := s.clock.Now()
	expiresAt := now.Add(s.policy.Get().Checkout.TTL)
	if err := s.repo.ResetExpiry(ctx, s.db, checkout.ID, expiresAt, now); err != nil {
		return domain.Checkout{}, err
	}
	checkout.ExpiresAt = expiresAt
	checkout.UpdatedAt = now
	return checkout, nil
}
