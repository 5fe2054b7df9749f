package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/lock"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	lockTTL = 15 * time.Second

	outcomeReplayed = "replayed"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Policy     *config.PolicyConfigHolder
	Locker     lock.Locker
	Repo       paymentdomain.Repository
	Checkouts  checkoutdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.PolicyConfigHolder
	locker     lock.Locker
	repo       paymentdomain.Repository
	checkouts  checkoutdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		locker:     p.Locker,
		repo:       p.Repo,
		checkouts:  p.Checkouts,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ProcessPaymentEvent(ctx context.Context, req paymentdomain.ProcessRequest) (paymentdomain.ProcessResult, error) {
	if err := validateRequest(&req); err != nil {
		return paymentdomain.ProcessResult{}, err
	}
	payload, err := s.normalizePayload(req.Payload)
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}

	var result paymentdomain.ProcessResult
	err = lock.WithLock(ctx, s.locker, checkoutdomain.LockKey(req.CheckoutID), lockTTL, func(ctx context.Context) error {
		var err error
		result, err = s.process(ctx, req, payload)
		return err
	})
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}

	outcome := string(result.Event.Outcome)
	if result.Replayed {
		outcome = outcomeReplayed
	}
	s.obsMetrics.RecordPaymentEvent(ctx, req.Provider, outcome)
	return result, nil
}

func (s *Service) process(ctx context.Context, req paymentdomain.ProcessRequest, payload datatypes.JSON) (paymentdomain.ProcessResult, error) {
	key := paymentdomain.DedupeKey(req.Provider, req.ExternalEventID)
	stored, err := s.repo.FindByDedupeKey(ctx, s.db, key)
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}
	if stored != nil {
		return s.replay(ctx, *stored)
	}

	processedAt := s.clock.Now()
	if req.ProcessedAt != nil && !req.ProcessedAt.IsZero() {
		processedAt = req.ProcessedAt.UTC()
	}
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        req.Provider,
		ExternalEventID: req.ExternalEventID,
		DedupeKey:       key,
		CheckoutID:      req.CheckoutID,
		Status:          req.Status,
		Payload:         payload,
		ProcessedAt:     processedAt,
		CreatedAt:       s.clock.Now(),
	}

	checkout, err := s.checkouts.Find(ctx, req.CheckoutID)
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}

	// Reserve the ledger row before the checkout moves.
	record.Outcome = checkoutdomain.OutcomePending
	if checkout == nil {
		record.Outcome = checkoutdomain.OutcomeIgnoredMissingCheckout
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}
	if !inserted {
		stored, err := s.repo.FindByDedupeKey(ctx, s.db, key)
		if err != nil {
			return paymentdomain.ProcessResult{}, err
		}
		if stored == nil {
			return paymentdomain.ProcessResult{}, paymentdomain.ErrInvalidEvent
		}
		return s.replay(ctx, *stored)
	}

	var current *checkoutdomain.Checkout
	if checkout == nil {
		s.log.Warn("payment event for unknown checkout",
			zap.String("dedupe_key", key),
			zap.String("checkout_id", req.CheckoutID.String()),
		)
	} else {
		applied, err := s.checkouts.ApplyStatus(ctx, req.CheckoutID, req.Status)
		if err != nil {
			if derr := s.repo.DeleteEvent(ctx, s.db, record.ID); derr != nil {
				s.log.Error("release payment event reservation",
					zap.String("dedupe_key", key),
					zap.Error(derr),
				)
			}
			return paymentdomain.ProcessResult{}, err
		}
		if err := s.repo.SetOutcome(ctx, s.db, record.ID, applied.Outcome); err != nil {
			return paymentdomain.ProcessResult{}, err
		}
		record.Outcome = applied.Outcome
		current = &applied.Checkout
	}

	s.log.Info("payment event processed",
		zap.String("dedupe_key", key),
		zap.String("checkout_id", req.CheckoutID.String()),
		zap.String("status", string(req.Status)),
		zap.String("outcome", string(record.Outcome)),
	)
	return paymentdomain.ProcessResult{Event: record, Checkout: current}, nil
}

func (s *Service) replay(ctx context.Context, stored paymentdomain.EventRecord) (paymentdomain.ProcessResult, error) {
	checkout, err := s.checkouts.Find(ctx, stored.CheckoutID)
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}
	return paymentdomain.ProcessResult{Event: stored, Replayed: true, Checkout: checkout}, nil
}

func (s *Service) Timeline(ctx context.Context, checkoutID snowflake.ID) ([]paymentdomain.EventRecord, error) {
	return s.repo.ListByCheckout(ctx, s.db, checkoutID)
}

func (s *Service) List(ctx context.Context, filter paymentdomain.ListFilter) ([]paymentdomain.EventRecord, error) {
	return s.repo.List(ctx, s.db, filter)
}

func validateRequest(req *paymentdomain.ProcessRequest) error {
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	req.ExternalEventID = strings.TrimSpace(req.ExternalEventID)
	if req.ExternalEventID == "" || req.CheckoutID == 0 {
		return paymentdomain.ErrInvalidEvent
	}
	if !req.Status.EventStatus() {
		return checkoutdomain.ErrInvalidStatus
	}
	return nil
}

// normalizePayload keeps payloads as JSON and replaces oversized ones with a
// size marker.
func (s *Service) normalizePayload(raw []byte) (datatypes.JSON, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return datatypes.JSON("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, paymentdomain.ErrInvalidPayload
	}
	limit := s.policy.Get().Payments.PayloadMaxBytes
	if limit > 0 && len(raw) > limit {
		marker, err := json.Marshal(map[string]any{"truncated": true, "size": len(raw)})
		if err != nil {
			return nil, err
		}
		return datatypes.JSON(marker), nil
	}
	return datatypes.JSON(raw), nil
}
