package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Cfg        config.Config
	Policy     *config.PolicyConfigHolder
	PaymentSvc paymentdomain.Service
	Adapters   *adapters.Registry
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	policy     *config.PolicyConfigHolder
	paymentSvc paymentdomain.Service
	adapters   *adapters.Registry
	secrets    map[string]string
}

func NewService(p Params) paymentdomain.WebhookService {
	p.Log.Debug("payment webhook providers", zap.Strings("providers", p.Adapters.Providers()))
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		clock:      p.Clock,
		policy:     p.Policy,
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		secrets: map[string]string{
			paymentdomain.ProviderCard: p.Cfg.CardWebhookSecret,
		},
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*paymentdomain.ProcessResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	adapter, err := s.adapters.Adapter(provider, paymentdomain.AdapterConfig{
		Provider:  provider,
		Secret:    s.secrets[provider],
		Tolerance: s.policy.Get().Payments.WebhookTolerance,
		Now:       s.clock.Now,
	})
	if err != nil {
		return nil, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("payment webhook rejected", zap.String("provider", provider), zap.Error(err))
		return nil, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Debug("payment webhook ignored", zap.String("provider", provider))
			return nil, nil
		}
		return nil, err
	}
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	occurredAt := event.OccurredAt
	result, err := s.paymentSvc.ProcessPaymentEvent(ctx, paymentdomain.ProcessRequest{
		Provider:        provider,
		ExternalEventID: event.ExternalEventID,
		CheckoutID:      event.CheckoutID,
		Status:          event.Status,
		Payload:         event.RawPayload,
		ProcessedAt:     &occurredAt,
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
