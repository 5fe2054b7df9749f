package purchase

import (
	"github.com/smallbiznis/coursemart/internal/purchase/repository"
	"github.com/smallbiznis/coursemart/internal/purchase/service"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
