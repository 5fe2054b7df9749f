package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/observability/metrics"
	"github.com/smallbiznis/coursemart/internal/outbox/domain"
	"github.com/smallbiznis/coursemart/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Policy   *config.PolicyConfigHolder
	Provider email.Provider
	Repo     domain.Repository
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.PolicyConfigHolder
	provider email.Provider
	repo     domain.Repository
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
}

func New(p Params) domain.Service {
	limit := rate.Inf
	if p.Cfg.Email.SendPerSec > 0 {
		limit = rate.Limit(p.Cfg.Email.SendPerSec)
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("outbox.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		provider: p.Provider,
		repo:     p.Repo,
		metrics:  p.Metrics,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

func (s *Service) Enqueue(ctx context.Context, req domain.EnqueueRequest) (domain.Message, error) {
	dedupeKey := strings.TrimSpace(req.DedupeKey)
	if dedupeKey == "" {
		return domain.Message{}, domain.ErrInvalidDedupeKey
	}
	recipient := strings.ToLower(strings.TrimSpace(req.RecipientEmail))
	if recipient == "" {
		return domain.Message{}, domain.ErrInvalidRecipient
	}
	subject, body, err := domain.Render(req.Template, req.Data)
	if err != nil {
		return domain.Message{}, err
	}

	now := s.clock.Now()
	msg := domain.Message{
		ID:             s.genID.Generate(),
		Channel:        domain.ChannelEmail,
		Provider:       s.provider.Name(),
		Template:       req.Template,
		DedupeKey:      dedupeKey,
		RecipientEmail: recipient,
		Subject:        subject,
		Body:           body,
		Data:           datatypes.JSONMap(req.Data),
		Status:         domain.StatusQueued,
		MaxAttempts:    s.policy.Get().Outbox.MaxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, &msg)
	if err != nil {
		return domain.Message{}, err
	}
	if inserted {
		return msg, nil
	}

	existing, err := s.repo.FindByDedupeKey(ctx, s.db, dedupeKey)
	if err != nil {
		return domain.Message{}, err
	}
	if existing == nil {
		return domain.Message{}, domain.ErrNotFound
	}
	if existing.Status != domain.StatusFailed {
		return *existing, nil
	}
	return s.requeue(ctx, existing.ID)
}

func (s *Service) Retry(ctx context.Context, id snowflake.ID) (domain.Message, error) {
	existing, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Message{}, err
	}
	if existing == nil {
		return domain.Message{}, domain.ErrNotFound
	}
	if existing.Status != domain.StatusFailed {
		return domain.Message{}, domain.ErrNotRetryable
	}
	return s.requeue(ctx, id)
}

func (s *Service) requeue(ctx context.Context, id snowflake.ID) (domain.Message, error) {
	if _, err := s.repo.Requeue(ctx, s.db, id, s.clock.Now()); err != nil {
		return domain.Message{}, err
	}
	msg, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Message{}, err
	}
	if msg == nil {
		return domain.Message{}, domain.ErrNotFound
	}
	s.log.Info("outbox message requeued", zap.String("message_id", id.String()), zap.String("template", string(msg.Template)))
	return *msg, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Message, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Dispatch(ctx context.Context) (domain.DispatchResult, error) {
	policy := s.policy.Get().Outbox
	due, err := s.repo.ListDue(ctx, s.db, s.clock.Now(), policy.BatchSize)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	var result domain.DispatchResult
	for _, msg := range due {
		if err := s.limiter.Wait(ctx); err != nil {
			return result, err
		}
		status, err := s.deliver(ctx, msg, policy)
		if err != nil {
			return result, err
		}
		switch status {
		case domain.StatusSent:
			result.Sent++
		case domain.StatusFailed:
			result.Failed++
		default:
			result.Retried++
		}
		s.metrics.RecordOutboxDelivery(ctx, string(msg.Template), string(status))
	}
	return result, nil
}

// deliver makes one attempt and returns the resulting status. Only storage
// errors are returned; provider failures are recorded on the message.
func (s *Service) deliver(ctx context.Context, msg domain.Message, policy config.OutboxPolicy) (domain.Status, error) {
	attempts := msg.AttemptCount + 1
	res, sendErr := s.provider.Send(ctx, email.Message{
		To:       msg.RecipientEmail,
		Subject:  msg.Subject,
		Text:     msg.Body,
		Template: string(msg.Template),
		Metadata: map[string]string{"dedupeKey": msg.DedupeKey},
	})
	now := s.clock.Now()
	if sendErr == nil {
		if err := s.repo.MarkSent(ctx, s.db, msg.ID, s.provider.Name(), res.ProviderMessageID, attempts, now); err != nil {
			return "", err
		}
		return domain.StatusSent, nil
	}

	maxAttempts := msg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = policy.MaxAttempts
	}
	update := domain.AttemptFailure{
		Provider:     s.provider.Name(),
		Status:       domain.StatusQueued,
		AttemptCount: attempts,
		ErrorCode:    email.ErrorCode(sendErr),
		Error:        sendErr.Error(),
		Now:          now,
	}
	if !email.IsRetryable(sendErr) || attempts >= maxAttempts {
		update.Status = domain.StatusFailed
	} else {
		next := now.Add(Backoff(policy.Backoff, attempts))
		update.NextAttemptAt = &next
	}
	if err := s.repo.MarkAttemptFailed(ctx, s.db, msg.ID, update); err != nil {
		return "", err
	}
	s.log.Warn("outbox delivery failed",
		zap.String("message_id", msg.ID.String()),
		zap.String("template", string(msg.Template)),
		zap.Int("attempt", attempts),
		zap.String("error_code", update.ErrorCode),
		zap.String("status", string(update.Status)),
	)
	return update.Status, nil
}

// Backoff returns the delay after the given failed attempt. Attempts past the
// end of the schedule reuse its last step.
func Backoff(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return time.Minute
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}
