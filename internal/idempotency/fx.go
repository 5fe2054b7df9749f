package idempotency

import (
	"github.com/smallbiznis/coursemart/internal/idempotency/repository"
	"github.com/smallbiznis/coursemart/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
