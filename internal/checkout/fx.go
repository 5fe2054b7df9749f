package checkout

import (
	"github.com/smallbiznis/coursemart/internal/checkout/repository"
	"github.com/smallbiznis/coursemart/internal/checkout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
