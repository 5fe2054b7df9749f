package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	"gorm.io/datatypes"
)

// EventRecord is an immutable entry of the payment event log. DedupeKey is
// provider:externalEventId and is globally unique.
type EventRecord struct {
	ID              snowflake.ID           `json:"id" gorm:"primaryKey"`
	Provider        string                 `json:"provider" gorm:"type:varchar(32);not null"`
	ExternalEventID string                 `json:"externalEventId" gorm:"type:varchar(255);not null"`
	DedupeKey       string                 `json:"dedupeKey" gorm:"type:varchar(320);not null;uniqueIndex"`
	CheckoutID      snowflake.ID           `json:"checkoutId" gorm:"not null;index"`
	Status          checkoutdomain.Status  `json:"status" gorm:"type:varchar(32);not null"`
	Payload         datatypes.JSON         `json:"payload" gorm:"not null"`
	Outcome         checkoutdomain.Outcome `json:"outcome" gorm:"type:varchar(32);not null"`
	ProcessedAt     time.Time              `json:"processedAt" gorm:"not null;index"`
	CreatedAt       time.Time              `json:"createdAt" gorm:"not null"`
}

func (EventRecord) TableName() string { return "payment_events" }

func DedupeKey(provider, externalEventID string) string {
	return provider + ":" + externalEventID
}

const (
	ProviderMock   = "mock"
	ProviderCard   = "card"
	ProviderSBP    = "sbp"
	ProviderBnpl   = "bnpl"
	ProviderManual = "manual"
	ProviderSystem = "system"
)

type ProcessRequest struct {
	Provider        string
	ExternalEventID string
	CheckoutID      snowflake.ID
	Status          checkoutdomain.Status
	Payload         []byte
	ProcessedAt     *time.Time
}

type ProcessResult struct {
	Event    EventRecord              `json:"event"`
	Replayed bool                     `json:"replayed"`
	Checkout *checkoutdomain.Checkout `json:"checkout,omitempty"`
}

type ListFilter struct {
	CheckoutIDs []snowflake.ID
	Statuses    []checkoutdomain.Status
}

type Service interface {
	// ProcessPaymentEvent is the single funnel for payment status changes.
	// A repeated dedupe key returns the stored record without side effects.
	ProcessPaymentEvent(ctx context.Context, req ProcessRequest) (ProcessResult, error)
	Timeline(ctx context.Context, checkoutID snowflake.ID) ([]EventRecord, error)
	List(ctx context.Context, filter ListFilter) ([]EventRecord, error)
}

// PaymentEvent is the canonical event parsed by provider adapters.
type PaymentEvent struct {
	Provider        string
	ExternalEventID string
	CheckoutID      snowflake.ID
	Status          checkoutdomain.Status
	OccurredAt      time.Time
	RawPayload      []byte
}

type AdapterConfig struct {
	Provider  string
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type WebhookService interface {
	// IngestWebhook verifies and applies a provider callback. A nil result
	// with nil error means the event type is not relevant.
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*ProcessResult, error)
}

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrEventIgnored     = errors.New("event_ignored")
)
