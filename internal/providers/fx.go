package providers

import (
	"github.com/smallbiznis/coursemart/internal/providers/email"
	"github.com/smallbiznis/coursemart/internal/providers/payment"
	"github.com/smallbiznis/coursemart/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	payment.Module,
	pdf.Module,
)
