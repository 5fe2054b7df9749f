package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	UserID                *snowflake.ID
	Email                 string
	CourseID              snowflake.ID
	Amount                int64
	Currency              string
	Method                Method
	BnplInstallmentsCount *int
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Checkout, error)
	Get(ctx context.Context, id snowflake.ID) (Checkout, error)
	Find(ctx context.Context, id snowflake.ID) (*Checkout, error)
	FindActive(ctx context.Context, email string, courseID snowflake.ID) (*Checkout, error)
	List(ctx context.Context, filter ListFilter) ([]Checkout, error)
	ListExpired(ctx context.Context, limit int) ([]Checkout, error)
	ListDueForSettlement(ctx context.Context, method Method, limit int) ([]Checkout, error)

	// ApplyStatus advances the state machine for one payment event. Callers
	// serialize calls per checkout. Entering paid triggers provisioning.
	ApplyStatus(ctx context.Context, checkoutID snowflake.ID, status Status) (ApplyResult, error)
	// ResumeProvisioning retries provisioning for a checkout stalled in
	// provisioning, e.g. after identity verification.
	ResumeProvisioning(ctx context.Context, checkoutID snowflake.ID) (Checkout, error)
	AttachUser(ctx context.Context, checkoutID, userID snowflake.ID) (Checkout, error)
	ResetExpiry(ctx context.Context, checkoutID snowflake.ID) (Checkout, error)
}

var (
	ErrNotFound         = errors.New("checkout_not_found")
	ErrInvalidMethod    = errors.New("invalid_payment_method")
	ErrInvalidStatus    = errors.New("invalid_checkout_status")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidEmail     = errors.New("invalid_email")
	ErrAlreadyPaid      = errors.New("checkout_already_paid")
	ErrNotRetryable     = errors.New("checkout_not_retryable")
	ErrConcurrentUpdate = errors.New("checkout_concurrent_update")
)
