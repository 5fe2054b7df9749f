package payment

import (
	"hash/fnv"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	"github.com/smallbiznis/coursemart/internal/config"
)

// SettlementOracle decides how a simulated card/sbp payment ends.
type SettlementOracle interface {
	Settle(checkoutID snowflake.ID) checkoutdomain.Status
}

// HashOracle is deterministic per checkout id: FNV-1a of the id modulo 100
// below the configured paid percentage settles paid.
type HashOracle struct {
	policy *config.PolicyConfigHolder
}

func NewHashOracle(policy *config.PolicyConfigHolder) SettlementOracle {
	return &HashOracle{policy: policy}
}

func (o *HashOracle) Settle(checkoutID snowflake.ID) checkoutdomain.Status {
	h := fnv.New32a()
	_, _ = h.Write([]byte(checkoutID.String()))
	sum := h.Sum32()

	if int(sum%100) < o.policy.Get().Checkout.SettlementPaidPercent {
		return checkoutdomain.StatusPaid
	}
	if (sum/100)%2 == 0 {
		return checkoutdomain.StatusFailed
	}
	return checkoutdomain.StatusCanceled
}

// FixedOracle always answers the same status.
type FixedOracle checkoutdomain.Status

func (o FixedOracle) Settle(snowflake.ID) checkoutdomain.Status {
	return checkoutdomain.Status(o)
}
