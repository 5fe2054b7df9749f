package payment

import (
	"github.com/smallbiznis/coursemart/internal/payment/adapters"
	"github.com/smallbiznis/coursemart/internal/payment/adapters/card"
	"github.com/smallbiznis/coursemart/internal/payment/repository"
	paymentservice "github.com/smallbiznis/coursemart/internal/payment/service"
	"github.com/smallbiznis/coursemart/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			card.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
