package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	"github.com/smallbiznis/coursemart/internal/checkoutflow/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	entitlementdomain "github.com/smallbiznis/coursemart/internal/entitlement/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	"github.com/smallbiznis/coursemart/internal/lock"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	paymentgateway "github.com/smallbiznis/coursemart/internal/providers/payment"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockTTL = 30 * time.Second

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	Policy       *config.PolicyConfigHolder
	Locker       lock.Locker
	Users        userdomain.Service
	Identity     identitydomain.Service
	Catalog      catalogdomain.Service
	Checkouts    checkoutdomain.Service
	Payments     paymentdomain.Service
	Purchases    purchasedomain.Service
	Entitlements entitlementdomain.Service
	Outbox       outboxdomain.Service
	Gateway      paymentgateway.Gateway
	Oracle       paymentgateway.SettlementOracle
}

type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	policy       *config.PolicyConfigHolder
	locker       lock.Locker
	users        userdomain.Service
	identity     identitydomain.Service
	catalog      catalogdomain.Service
	checkouts    checkoutdomain.Service
	payments     paymentdomain.Service
	purchases    purchasedomain.Service
	entitlements entitlementdomain.Service
	outbox       outboxdomain.Service
	gateway      paymentgateway.Gateway
	oracle       paymentgateway.SettlementOracle
}

func New(p Params) domain.Service {
	return &Service{
		log:          p.Log.Named("checkoutflow.service"),
		clock:        p.Clock,
		policy:       p.Policy,
		locker:       p.Locker,
		users:        p.Users,
		identity:     p.Identity,
		catalog:      p.Catalog,
		checkouts:    p.Checkouts,
		payments:     p.Payments,
		purchases:    p.Purchases,
		entitlements: p.Entitlements,
		outbox:       p.Outbox,
		gateway:      p.Gateway,
		oracle:       p.Oracle,
	}
}

func (s *Service) StartCheckout(ctx context.Context, actor userdomain.Actor, req domain.StartRequest) (domain.StartResult, error) {
	if !req.ConsentAccepted {
		return domain.StartResult{}, domain.ErrConsentRequired
	}
	if !req.Method.Valid() {
		return domain.StartResult{}, checkoutdomain.ErrInvalidMethod
	}
	installments, err := s.installments(req)
	if err != nil {
		return domain.StartResult{}, err
	}

	course, err := s.catalog.GetCourse(ctx, req.CourseID)
	if err != nil {
		return domain.StartResult{}, err
	}
	if !course.Published {
		return domain.StartResult{}, domain.ErrCourseUnavailable
	}

	email, err := s.checkoutEmail(actor, req.Email)
	if err != nil {
		return domain.StartResult{}, err
	}

	var result domain.StartResult
	key := "checkoutflow:" + checkoutdomain.KeyPrefix(email, course.ID)
	err = lock.WithLock(ctx, s.locker, key, lockTTL, func(ctx context.Context) error {
		var err error
		result, err = s.start(ctx, actor, email, course, req.Method, installments)
		return err
	})
	return result, err
}

func (s *Service) start(
	ctx context.Context,
	actor userdomain.Actor,
	email string,
	course catalogdomain.Course,
	method checkoutdomain.Method,
	installments *int,
) (domain.StartResult, error) {
	user, guest, err := s.resolveBuyer(ctx, actor, email)
	if err != nil {
		return domain.StartResult{}, err
	}

	existing, err := s.purchases.FindForUserCourse(ctx, user.ID, course.ID)
	if err != nil {
		return domain.StartResult{}, err
	}
	if existing != nil {
		return domain.StartResult{}, domain.ErrAlreadyPurchased
	}

	state := identitydomain.StateKnownUnverified
	if user.EmailVerified {
		state = identitydomain.StateVerified
	}
	userID := user.ID
	upserted, err := s.identity.Upsert(ctx, identitydomain.UpsertRequest{Email: email, UserID: &userID, State: state})
	if err != nil {
		return domain.StartResult{}, err
	}
	if !upserted.Identity.Verified() {
		s.sendVerification(ctx, email, "identity_verification:"+email)
	}

	active, err := s.checkouts.FindActive(ctx, email, course.ID)
	if err != nil {
		return domain.StartResult{}, err
	}
	if active != nil {
		checkout := *active
		if checkout.UserID == nil {
			checkout, err = s.checkouts.AttachUser(ctx, checkout.ID, user.ID)
			if err != nil {
				return domain.StartResult{}, err
			}
		}
		s.log.Info("reusing active checkout",
			zap.String("checkout_id", checkout.ID.String()),
			zap.String("status", string(checkout.Status)),
		)
		return domain.StartResult{Checkout: checkout, Reused: true, Guest: guest, Identity: upserted.Identity}, nil
	}

	checkout, err := s.checkouts.Create(ctx, checkoutdomain.CreateRequest{
		UserID:                &userID,
		Email:                 email,
		CourseID:              course.ID,
		Amount:                course.Price,
		Currency:              course.Currency,
		Method:                method,
		BnplInstallmentsCount: installments,
	})
	if err != nil {
		return domain.StartResult{}, err
	}

	processed, err := s.initiate(ctx, checkout)
	if err != nil {
		return domain.StartResult{}, err
	}
	if processed.Checkout != nil {
		checkout = *processed.Checkout
	}
	return domain.StartResult{
		Checkout: checkout,
		Guest:    guest,
		Event:    &processed.Event,
		Identity: upserted.Identity,
	}, nil
}

func (s *Service) installments(req domain.StartRequest) (*int, error) {
	if req.Method != checkoutdomain.MethodBnpl {
		return nil, nil
	}
	count := s.policy.Get().Bnpl.DefaultInstallments
	if req.BnplInstallmentsCount != nil {
		count = *req.BnplInstallmentsCount
	}
	if count < bnpldomain.MinInstallments || count > bnpldomain.MaxInstallments {
		return nil, bnpldomain.ErrInvalidInstallments
	}
	return &count, nil
}

func (s *Service) checkoutEmail(actor userdomain.Actor, raw string) (string, error) {
	email := userdomain.NormalizeEmail(raw)
	if !actor.Anonymous() {
		own := userdomain.NormalizeEmail(actor.User.Email)
		if email != "" && email != own {
			return "", identitydomain.ErrIdentityMismatch
		}
		return own, nil
	}
	if !userdomain.ValidEmail(email) {
		return "", checkoutdomain.ErrInvalidEmail
	}
	return email, nil
}

// resolveBuyer returns the user the checkout belongs to. Anonymous buyers get
// an unverified student account; an email owned by a verified account must
// log in instead.
func (s *Service) resolveBuyer(ctx context.Context, actor userdomain.Actor, email string) (userdomain.User, bool, error) {
	if !actor.Anonymous() {
		return *actor.User, false, nil
	}
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if user.EmailVerified {
			return userdomain.User{}, false, domain.ErrEmailCollision
		}
		return user, true, nil
	case errors.Is(err, userdomain.ErrNotFound):
	default:
		return userdomain.User{}, false, err
	}

	user, err = s.users.Create(ctx, userdomain.CreateUserRequest{
		Email: email,
		Role:  userdomain.RoleStudent,
	})
	if err != nil {
		return userdomain.User{}, false, err
	}
	s.log.Info("guest buyer created", zap.String("user_id", user.ID.String()))
	return user, true, nil
}

func (s *Service) initiate(ctx context.Context, checkout checkoutdomain.Checkout) (paymentdomain.ProcessResult, error) {
	init, err := s.gateway.InitiateCheckoutPayment(ctx, checkout)
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}
	payload, err := json.Marshal(init.Payload)
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}
	return s.payments.ProcessPaymentEvent(ctx, paymentdomain.ProcessRequest{
		Provider:        init.Provider,
		ExternalEventID: init.ExternalEventID,
		CheckoutID:      checkout.ID,
		Status:          init.Status,
		Payload:         payload,
	})
}

func (s *Service) sendVerification(ctx context.Context, email, dedupeKey string) {
	_, err := s.outbox.Enqueue(ctx, outboxdomain.EnqueueRequest{
		Template:       outboxdomain.TemplateIdentityVerification,
		DedupeKey:      dedupeKey,
		RecipientEmail: email,
		Data: map[string]any{
			"email": email,
			"code":  s.identity.VerificationCode(email),
		},
	})
	if err != nil {
		s.log.Warn("verification email enqueue failed", zap.Error(err))
	}
}

func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = userdomain.NormalizeEmail(email)
	ident, err := s.identity.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if ident.Verified() {
		return nil
	}
	s.sendVerification(ctx, email, fmt.Sprintf("identity_verification:%s:%d", email, s.clock.Now().Unix()))
	return nil
}

func (s *Service) AttachCheckout(ctx context.Context, actor userdomain.Actor, checkoutID snowflake.ID) (checkoutdomain.Checkout, error) {
	if actor.Anonymous() {
		return checkoutdomain.Checkout{}, domain.ErrAuthenticationRequired
	}
	checkout, err := s.checkouts.Get(ctx, checkoutID)
	if err != nil {
		return checkoutdomain.Checkout{}, err
	}
	email := userdomain.NormalizeEmail(actor.User.Email)
	if checkout.Email != email {
		return checkoutdomain.Checkout{}, identitydomain.ErrIdentityMismatch
	}
	verified, err := s.identity.IsUserVerified(ctx, actor.User.ID)
	if err != nil {
		return checkoutdomain.Checkout{}, err
	}
	if !verified && !actor.User.EmailVerified {
		return checkoutdomain.Checkout{}, entitlementdomain.ErrIdentityUnverified
	}

	userID := actor.User.ID
	if _, err := s.identity.Upsert(ctx, identitydomain.UpsertRequest{
		Email:  email,
		UserID: &userID,
		State:  identitydomain.StateVerified,
	}); err != nil {
		return checkoutdomain.Checkout{}, err
	}
	checkout, err = s.checkouts.AttachUser(ctx, checkout.ID, userID)
	if err != nil {
		return checkoutdomain.Checkout{}, err
	}
	if checkout.Status.Captured() {
		return s.checkouts.ResumeProvisioning(ctx, checkout.ID)
	}
	return checkout, nil
}

func (s *Service) ConfirmIdentity(ctx context.Context, email, code string) (domain.ConfirmResult, error) {
	email = userdomain.NormalizeEmail(email)
	if !s.identity.CheckVerificationCode(email, code) {
		return domain.ConfirmResult{}, identitydomain.ErrInvalidCode
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return domain.ConfirmResult{}, err
	}
	if !user.EmailVerified {
		if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
			return domain.ConfirmResult{}, err
		}
		user.EmailVerified = true
	}

	userID := user.ID
	upserted, err := s.identity.Upsert(ctx, identitydomain.UpsertRequest{
		Email:  email,
		UserID: &userID,
		State:  identitydomain.StateVerified,
	})
	if err != nil {
		return domain.ConfirmResult{}, err
	}

	activated, err := s.entitlements.ActivatePendingEntitlements(ctx, user.ID)
	if err != nil {
		return domain.ConfirmResult{}, err
	}

	stalled, err := s.checkouts.List(ctx, checkoutdomain.ListFilter{
		Email:    email,
		Statuses: []checkoutdomain.Status{checkoutdomain.StatusPaid, checkoutdomain.StatusProvisioning},
	})
	if err != nil {
		return domain.ConfirmResult{}, err
	}
	resumed := make([]checkoutdomain.Checkout, 0, len(stalled))
	for _, checkout := range stalled {
		if checkout.UserID == nil {
			if _, err := s.checkouts.AttachUser(ctx, checkout.ID, user.ID); err != nil {
				return domain.ConfirmResult{}, err
			}
		} else if *checkout.UserID != user.ID {
			continue
		}
		updated, err := s.checkouts.ResumeProvisioning(ctx, checkout.ID)
		if err != nil {
			s.log.Warn("resume provisioning failed", zap.String("checkout_id", checkout.ID.String()), zap.Error(err))
			continue
		}
		resumed = append(resumed, updated)
	}

	s.log.Info("identity confirmed",
		zap.String("user_id", user.ID.String()),
		zap.Int64("activated", activated),
		zap.Int("resumed", len(resumed)),
	)
	return domain.ConfirmResult{
		User:                  user,
		Identity:              upserted.Identity,
		ActivatedEntitlements: activated,
		Resumed:               resumed,
	}, nil
}

func (s *Service) Retry(ctx context.Context, actor userdomain.Actor, checkoutID snowflake.ID) (checkoutdomain.Checkout, error) {
	checkout, err := s.owned(ctx, actor, checkoutID)
	if err != nil {
		return checkoutdomain.Checkout{}, err
	}
	if !checkout.Status.Negative() {
		return checkoutdomain.Checkout{}, checkoutdomain.ErrNotRetryable
	}

	checkout, err = s.checkouts.ResetExpiry(ctx, checkout.ID)
	if err != nil {
		return checkoutdomain.Checkout{}, err
	}
	processed, err := s.initiate(ctx, checkout)
	if err != nil {
		return checkoutdomain.Checkout{}, err
	}
	if processed.Checkout != nil {
		checkout = *processed.Checkout
	}
	s.log.Info("checkout retried",
		zap.String("checkout_id", checkout.ID.String()),
		zap.String("status", string(checkout.Status)),
	)
	return checkout, nil
}

func (s *Service) Cancel(ctx context.Context, actor userdomain.Actor, checkoutID snowflake.ID) (paymentdomain.ProcessResult, error) {
	checkout, err := s.owned(ctx, actor, checkoutID)
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}
	result, err := s.payments.ProcessPaymentEvent(ctx, paymentdomain.ProcessRequest{
		Provider:        paymentdomain.ProviderManual,
		ExternalEventID: attemptEventID("cancel", checkout),
		CheckoutID:      checkout.ID,
		Status:          checkoutdomain.StatusCanceled,
	})
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}
	if result.Event.Outcome == checkoutdomain.OutcomeIgnoredOutOfOrder {
		return result, checkoutdomain.ErrAlreadyPaid
	}
	return result, nil
}

func (s *Service) ConfirmPaid(ctx context.Context, checkoutID snowflake.ID) (paymentdomain.ProcessResult, error) {
	checkout, err := s.checkouts.Get(ctx, checkoutID)
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}
	return s.payments.ProcessPaymentEvent(ctx, paymentdomain.ProcessRequest{
		Provider:        paymentdomain.ProviderManual,
		ExternalEventID: attemptEventID("confirm", checkout),
		CheckoutID:      checkout.ID,
		Status:          checkoutdomain.StatusPaid,
	})
}

func (s *Service) ExpireStale(ctx context.Context, limit int) (domain.SweepResult, error) {
	items, err := s.checkouts.ListExpired(ctx, limit)
	if err != nil {
		return domain.SweepResult{}, err
	}
	result := domain.SweepResult{Scanned: len(items)}
	for _, checkout := range items {
		processed, err := s.payments.ProcessPaymentEvent(ctx, paymentdomain.ProcessRequest{
			Provider:        paymentdomain.ProviderSystem,
			ExternalEventID: attemptEventID("expire", checkout),
			CheckoutID:      checkout.ID,
			Status:          checkoutdomain.StatusExpired,
		})
		s.count(&result, processed, err, checkout.ID, "expire")
	}
	return result, nil
}

func (s *Service) AutoSettle(ctx context.Context, limit int) (domain.SweepResult, error) {
	var result domain.SweepResult
	for _, method := range []checkoutdomain.Method{checkoutdomain.MethodCard, checkoutdomain.MethodSBP} {
		items, err := s.checkouts.ListDueForSettlement(ctx, method, limit)
		if err != nil {
			return result, err
		}
		result.Scanned += len(items)
		for _, checkout := range items {
			processed, err := s.payments.ProcessPaymentEvent(ctx, paymentdomain.ProcessRequest{
				Provider:        string(method),
				ExternalEventID: attemptEventID("settle", checkout),
				CheckoutID:      checkout.ID,
				Status:          s.oracle.Settle(checkout.ID),
			})
			s.count(&result, processed, err, checkout.ID, "settle")
		}
	}
	return result, nil
}

func (s *Service) count(result *domain.SweepResult, processed paymentdomain.ProcessResult, err error, checkoutID snowflake.ID, op string) {
	if err != nil {
		result.Failed++
		s.log.Warn("checkout sweep failed",
			zap.String("op", op),
			zap.String("checkout_id", checkoutID.String()),
			zap.Error(err),
		)
		return
	}
	if !processed.Replayed && processed.Event.Outcome == checkoutdomain.OutcomeApplied {
		result.Applied++
	}
}

func (s *Service) Get(ctx context.Context, actor userdomain.Actor, checkoutID snowflake.ID) (checkoutdomain.Checkout, error) {
	return s.owned(ctx, actor, checkoutID)
}

// owned loads a checkout the actor may act on. Staff act on any checkout;
// anonymous callers only on checkouts whose email is still unverified.
func (s *Service) owned(ctx context.Context, actor userdomain.Actor, checkoutID snowflake.ID) (checkoutdomain.Checkout, error) {
	checkout, err := s.checkouts.Get(ctx, checkoutID)
	if err != nil {
		return checkoutdomain.Checkout{}, err
	}
	if actor.IsStaff() {
		return checkout, nil
	}
	if !actor.Anonymous() {
		if checkout.Email != userdomain.NormalizeEmail(actor.User.Email) {
			return checkoutdomain.Checkout{}, domain.ErrNotCheckoutOwner
		}
		return checkout, nil
	}
	verified, err := s.identity.IsVerified(ctx, checkout.Email)
	if err != nil {
		return checkoutdomain.Checkout{}, err
	}
	if verified {
		return checkoutdomain.Checkout{}, domain.ErrAuthenticationRequired
	}
	return checkout, nil
}

// attemptEventID scopes system-generated event ids to one checkout attempt;
// retries reset expiresAt so each attempt gets fresh ids.
func attemptEventID(kind string, checkout checkoutdomain.Checkout) string {
	return strings.Join([]string{kind, checkout.ID.String(), fmt.Sprint(checkout.ExpiresAt.UnixMilli())}, "_")
}
