package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	"go.uber.org/zap"
)

var ErrUnsupportedMethod = errors.New("unsupported_payment_method")

// Initiation is what a payment provider answers when a checkout attempt
// starts. It is fed straight into the payment event log.
type Initiation struct {
	Provider        string                `json:"provider"`
	ExternalEventID string                `json:"externalEventId"`
	Status          checkoutdomain.Status `json:"status"`
	Payload         map[string]any        `json:"payload"`
}

type Gateway interface {
	InitiateCheckoutPayment(ctx context.Context, checkout checkoutdomain.Checkout) (Initiation, error)
}

// SimulatedGateway stands in for a PSP. Mock and bnpl attempts settle
// immediately; card and sbp wait for a webhook or auto-settlement.
type SimulatedGateway struct {
	log *zap.Logger
}

func NewSimulatedGateway(log *zap.Logger) Gateway {
	return &SimulatedGateway{log: log.Named("payment.gateway")}
}

func (g *SimulatedGateway) InitiateCheckoutPayment(ctx context.Context, checkout checkoutdomain.Checkout) (Initiation, error) {
	provider, status, err := route(checkout.Method)
	if err != nil {
		return Initiation{}, err
	}
	attempt := strings.ToLower(ulid.Make().String())
	init := Initiation{
		Provider:        provider,
		ExternalEventID: fmt.Sprintf("init_%s_%s", checkout.ID, attempt),
		Status:          status,
		Payload: map[string]any{
			"checkoutId": checkout.ID.String(),
			"amount":     checkout.Amount,
			"currency":   checkout.Currency,
			"method":     string(checkout.Method),
			"attempt":    attempt,
		},
	}
	if checkout.Method == checkoutdomain.MethodBnpl && checkout.BnplInstallmentsCount != nil {
		init.Payload["installments"] = *checkout.BnplInstallmentsCount
	}
	g.log.Debug("payment initiated",
		zap.String("checkout_id", checkout.ID.String()),
		zap.String("provider", provider),
		zap.String("status", string(status)),
	)
	return init, nil
}

func route(method checkoutdomain.Method) (string, checkoutdomain.Status, error) {
	switch method {
	case checkoutdomain.MethodMock:
		return paymentdomain.ProviderMock, checkoutdomain.StatusPaid, nil
	case checkoutdomain.MethodBnpl:
		return paymentdomain.ProviderBnpl, checkoutdomain.StatusPaid, nil
	case checkoutdomain.MethodCard:
		return paymentdomain.ProviderCard, checkoutdomain.StatusAwaitingPayment, nil
	case checkoutdomain.MethodSBP:
		return paymentdomain.ProviderSBP, checkoutdomain.StatusAwaitingPayment, nil
	default:
		return "", "", ErrUnsupportedMethod
	}
}
