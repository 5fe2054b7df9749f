package card

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
)

const (
	HeaderSignature = "X-Card-Signature"
	HeaderTimestamp = "X-Card-Timestamp"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderCard
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		webhookSecret: secret,
		tolerance:     cfg.Tolerance,
		now:           now,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

// Sign returns the hex signature a card processor sends for payload at ts.
func Sign(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(HeaderSignature))
	rawTS := strings.TrimSpace(headers.Get(HeaderTimestamp))
	if signature == "" || rawTS == "" {
		return paymentdomain.ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if a.tolerance > 0 {
		skew := a.now().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > a.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	expected := Sign(a.webhookSecret, ts, payload)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event cardEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	status, ok := statusFor(strings.TrimSpace(event.Type))
	if !ok {
		return nil, paymentdomain.ErrEventIgnored
	}
	checkoutID, err := snowflake.ParseString(strings.TrimSpace(event.CheckoutID))
	if err != nil || checkoutID == 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}

	occurredAt := a.now().UTC()
	if event.Created > 0 {
		occurredAt = time.Unix(event.Created, 0).UTC()
	}
	return &paymentdomain.PaymentEvent{
		Provider:        paymentdomain.ProviderCard,
		ExternalEventID: event.ID,
		CheckoutID:      checkoutID,
		Status:          status,
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

// Refunds and lost disputes land on the log as canceled/failed; the checkout
// ignores them once provisioned and reconciliation flags the access.
func statusFor(eventType string) (checkoutdomain.Status, bool) {
	switch eventType {
	case "payment.pending":
		return checkoutdomain.StatusAwaitingPayment, true
	case "payment.succeeded":
		return checkoutdomain.StatusPaid, true
	case "payment.failed", "dispute.lost":
		return checkoutdomain.StatusFailed, true
	case "payment.canceled", "payment.refunded":
		return checkoutdomain.StatusCanceled, true
	default:
		return "", false
	}
}

type cardEvent struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	CheckoutID string `json:"checkoutId"`
	Created    int64  `json:"created"`
}
