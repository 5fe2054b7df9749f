package checkoutflow

import (
	"github.com/smallbiznis/coursemart/internal/checkoutflow/service"
	"go.uber.org/fx"
)

var Module = fx.Module("checkoutflow.service",
	fx.Provide(service.New),
)
