package payment

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitiateCheckoutPaymentRoutesByMethod(t *testing.T) {
	gw := NewSimulatedGateway(zap.NewNop())
	tests := []struct {
		method   checkoutdomain.Method
		provider string
		status   checkoutdomain.Status
	}{
		{checkoutdomain.MethodMock, "mock", checkoutdomain.StatusPaid},
		{checkoutdomain.MethodBnpl, "bnpl", checkoutdomain.StatusPaid},
		{checkoutdomain.MethodCard, "card", checkoutdomain.StatusAwaitingPayment},
		{checkoutdomain.MethodSBP, "sbp", checkoutdomain.StatusAwaitingPayment},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			init, err := gw.InitiateCheckoutPayment(context.Background(), checkoutdomain.Checkout{
				ID: 77, Method: tt.method, Amount: 1000, Currency: "USD",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.provider, init.Provider)
			assert.Equal(t, tt.status, init.Status)
			assert.Contains(t, init.ExternalEventID, "init_77_")
		})
	}

	a, _ := gw.InitiateCheckoutPayment(context.Background(), checkoutdomain.Checkout{ID: 1, Method: checkoutdomain.MethodCard})
	b, _ := gw.InitiateCheckoutPayment(context.Background(), checkoutdomain.Checkout{ID: 1, Method: checkoutdomain.MethodCard})
	assert.NotEqual(t, a.ExternalEventID, b.ExternalEventID, "each attempt gets its own event id")

	_, err := gw.InitiateCheckoutPayment(context.Background(), checkoutdomain.Checkout{ID: 1, Method: "cash"})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestHashOracleIsDeterministic(t *testing.T) {
	policy := config.NewStaticPolicyHolder(config.DefaultPolicyConfig())
	oracle := NewHashOracle(policy)

	paid := 0
	for i := int64(1); i <= 1000; i++ {
		id := snowflake.ID(i * 7919)
		first := oracle.Settle(id)
		require.Equal(t, first, oracle.Settle(id))
		switch first {
		case checkoutdomain.StatusPaid:
			paid++
		case checkoutdomain.StatusFailed, checkoutdomain.StatusCanceled:
		default:
			t.Fatalf("unexpected settlement %s", first)
		}
	}
	assert.InDelta(t, 840, paid, 100)
}

func TestHashOracleRespectsPolicy(t *testing.T) {
	cfg := config.DefaultPolicyConfig()
	cfg.Checkout.SettlementPaidPercent = 100
	oracle := NewHashOracle(config.NewStaticPolicyHolder(cfg))
	for i := int64(1); i <= 50; i++ {
		assert.Equal(t, checkoutdomain.StatusPaid, oracle.Settle(snowflake.ID(i)))
	}
}
