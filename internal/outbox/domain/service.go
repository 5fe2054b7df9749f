package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type EnqueueRequest struct {
	Template       Template
	DedupeKey      string
	RecipientEmail string
	Data           map[string]any
}

type Service interface {
	// Enqueue is idempotent by dedupe key. A failed message with the same key
	// is reset to queued; any other existing message is returned unchanged.
	Enqueue(ctx context.Context, req EnqueueRequest) (Message, error)
	Dispatch(ctx context.Context) (DispatchResult, error)
	List(ctx context.Context, filter ListFilter) ([]Message, error)
	Retry(ctx context.Context, id snowflake.ID) (Message, error)
}

var (
	ErrUnknownTemplate  = errors.New("unknown_template")
	ErrInvalidDedupeKey = errors.New("invalid_dedupe_key")
	ErrInvalidRecipient = errors.New("invalid_recipient")
	ErrInvalidStatus    = errors.New("invalid_outbox_status")
	ErrNotFound         = errors.New("outbox_message_not_found")
	ErrNotRetryable     = errors.New("outbox_message_not_failed")
)
