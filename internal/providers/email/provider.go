package email

import (
	"context"
	"errors"
)

type Message struct {
	To       string
	Subject  string
	Text     string
	Template string
	Metadata map[string]string
}

type Result struct {
	ProviderMessageID string
}

// Provider delivers a single transactional email.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (Result, error)
}

// SendError is a delivery failure reported by a provider.
type SendError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *SendError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// IsRetryable reports whether a send failure may succeed on a later attempt.
// Errors that are not a SendError are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Retryable
	}
	return true
}

// ErrorCode returns the provider error code, or "send_failed".
func ErrorCode(err error) string {
	var sendErr *SendError
	if errors.As(err, &sendErr) && sendErr.Code != "" {
		return sendErr.Code
	}
	return "send_failed"
}
