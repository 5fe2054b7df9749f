package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	entitlementdomain "github.com/smallbiznis/coursemart/internal/entitlement/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	"github.com/smallbiznis/coursemart/internal/lock"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/internal/reconciliation/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockTTL = 30 * time.Second

var errProvisioningIncomplete = errors.New("provisioning_incomplete")

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	Locker       lock.Locker
	Users        userdomain.Service
	Identity     identitydomain.Service
	Checkouts    checkoutdomain.Service
	Payments     paymentdomain.Service
	Purchases    purchasedomain.Service
	Entitlements entitlementdomain.Service
	Audit        auditdomain.Service
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	locker       lock.Locker
	users        userdomain.Service
	identity     identitydomain.Service
	checkouts    checkoutdomain.Service
	payments     paymentdomain.Service
	purchases    purchasedomain.Service
	entitlements entitlementdomain.Service
	audit        auditdomain.Service
	metrics      *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		log:          p.Log.Named("reconciliation.service"),
		clock:        p.Clock,
		locker:       p.Locker,
		users:        p.Users,
		identity:     p.Identity,
		checkouts:    p.Checkouts,
		payments:     p.Payments,
		purchases:    p.Purchases,
		entitlements: p.Entitlements,
		audit:        p.Audit,
		metrics:      p.Metrics,
	}
}

func (s *Service) Scan(ctx context.Context, filter domain.ScanFilter) ([]domain.Issue, error) {
	groups, err := s.load(ctx, filter)
	if err != nil {
		return nil, err
	}
	var issues []domain.Issue
	for _, g := range groups {
		issues = append(issues, detect(g)...)
	}
	return issues, nil
}

func (s *Service) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	issues, err := s.Scan(ctx, req.Filter)
	if err != nil {
		return domain.RunResult{}, err
	}

	result := domain.RunResult{DryRun: req.DryRun, Issues: issues, Actions: make([]domain.Action, 0, len(issues))}
	for _, issue := range issues {
		s.metrics.RecordReconciliationIssue(ctx, string(issue.Type), string(issue.Severity))

		action := domain.Action{IssueID: issue.ID, Type: issue.Type, Fix: issue.Fix}
		switch {
		case issue.Fix == domain.FixManualReview, !issue.Fix.Safe() && !req.IncludeHighRisk:
			action.Status = domain.ActionManualReviewRequired
			result.ManualReview++
		case req.DryRun:
			action.Status = domain.ActionPlanned
		default:
			s.applyLocked(ctx, req, issue, &action)
			if action.Status == domain.ActionApplied {
				result.Applied++
			}
		}
		result.Actions = append(result.Actions, action)
	}

	s.log.Info("reconciliation run",
		zap.Bool("dry_run", req.DryRun),
		zap.Bool("include_high_risk", req.IncludeHighRisk),
		zap.Int("issues", len(issues)),
		zap.Int("applied", result.Applied),
		zap.Int("manual_review", result.ManualReview),
	)
	return result, nil
}

func (s *Service) SelfHeal(ctx context.Context, actor userdomain.Actor) (domain.RunResult, error) {
	if actor.Role() != userdomain.RoleStudent {
		return domain.RunResult{}, domain.ErrSelfHealStudentOnly
	}
	user, err := s.users.GetByID(ctx, actor.UserID())
	if err != nil {
		return domain.RunResult{}, err
	}
	verified, err := s.identity.IsUserVerified(ctx, user.ID)
	if err != nil {
		return domain.RunResult{}, err
	}
	if !verified {
		return domain.RunResult{}, entitlementdomain.ErrIdentityUnverified
	}
	if !user.ProfileComplete() {
		return domain.RunResult{}, domain.ErrProfileIncomplete
	}

	userID := user.ID
	return s.Run(ctx, domain.RunRequest{
		Filter:    domain.ScanFilter{UserID: &userID},
		ActorType: auditdomain.ActorTypeStudent,
		ActorID:   &userID,
	})
}

func (s *Service) applyLocked(ctx context.Context, req domain.RunRequest, issue domain.Issue, action *domain.Action) {
	key := "reconciliation:" + issue.UserID.String() + ":" + issue.CourseID.String()
	err := lock.WithLock(ctx, s.locker, key, lockTTL, func(ctx context.Context) error {
		return s.apply(ctx, issue)
	})
	if err != nil {
		action.Status = domain.ActionFailed
		if errors.Is(err, entitlementdomain.ErrIdentityUnverified) {
			action.Status = domain.ActionSkipped
		}
		action.Error = err.Error()
		s.log.Warn("reconciliation fix failed",
			zap.String("issue_id", issue.ID),
			zap.String("fix", string(issue.Fix)),
			zap.Error(err),
		)
		return
	}

	action.Status = domain.ActionApplied
	record, err := s.audit.Record(ctx, auditdomain.RecordRequest{
		ActorType: req.ActorType,
		ActorID:   req.ActorID,
		Action:    "reconciliation." + string(issue.Fix),
		UserID:    issue.UserID,
		CourseID:  issue.CourseID,
		IssueType: string(issue.Type),
		Metadata: map[string]any{
			"issueId":     issue.ID,
			"severity":    string(issue.Severity),
			"checkoutIds": idStrings(issue.CheckoutIDs),
			"purchaseIds": idStrings(issue.PurchaseIDs),
		},
	})
	if err != nil {
		s.log.Warn("support action not recorded", zap.String("issue_id", issue.ID), zap.Error(err))
		return
	}
	action.RecordID = &record.ID
}

func (s *Service) apply(ctx context.Context, issue domain.Issue) error {
	switch issue.Fix {
	case domain.FixRestoreAccess:
		return s.restoreAccess(ctx, issue)
	case domain.FixDedupePurchases:
		for _, id := range issue.PurchaseIDs[1:] {
			if err := s.purchases.Delete(ctx, id); err != nil {
				return err
			}
		}
		return nil
	case domain.FixRevokeAccess:
		_, err := s.entitlements.RevokeCourseAccess(ctx, issue.UserID, issue.CourseID, string(issue.Type))
		return err
	default:
		return nil
	}
}

// restoreAccess re-runs provisioning from the oldest settled checkout.
func (s *Service) restoreAccess(ctx context.Context, issue domain.Issue) error {
	if len(issue.CheckoutIDs) == 0 {
		return checkoutdomain.ErrNotFound
	}
	verified, err := s.identity.IsUserVerified(ctx, issue.UserID)
	if err != nil {
		return err
	}
	if !verified {
		return entitlementdomain.ErrIdentityUnverified
	}

	checkout, err := s.checkouts.Get(ctx, issue.CheckoutIDs[0])
	if err != nil {
		return err
	}
	if checkout.Status != checkoutdomain.StatusProvisioned {
		resumed, err := s.checkouts.ResumeProvisioning(ctx, checkout.ID)
		if err != nil {
			return err
		}
		if resumed.Status != checkoutdomain.StatusProvisioned {
			return errProvisioningIncomplete
		}
		return nil
	}

	if _, err := s.entitlements.UpsertCourseEntitlement(ctx, entitlementdomain.UpsertCourseRequest{
		UserID:     issue.UserID,
		CourseID:   issue.CourseID,
		SourceType: entitlementdomain.SourceCheckout,
		SourceID:   checkout.ID,
		Activate:   true,
	}); err != nil {
		return err
	}
	installments := 0
	if checkout.BnplInstallmentsCount != nil {
		installments = *checkout.BnplInstallmentsCount
	}
	checkoutID := checkout.ID
	_, _, err = s.purchases.Materialize(ctx, purchasedomain.MaterializeRequest{
		UserID:           issue.UserID,
		CourseID:         issue.CourseID,
		CheckoutID:       &checkoutID,
		Price:            checkout.Amount,
		Currency:         checkout.Currency,
		PaymentMethod:    string(checkout.Method),
		BnplInstallments: installments,
	})
	return err
}

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
