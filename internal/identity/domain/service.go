package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type UpsertRequest struct {
	Email  string
	UserID *snowflake.ID
	State  State
}

type Service interface {
	Upsert(ctx context.Context, req UpsertRequest) (UpsertResult, error)
	GetByEmail(ctx context.Context, email string) (Identity, error)
	GetByUserID(ctx context.Context, userID snowflake.ID) (Identity, error)
	IsVerified(ctx context.Context, email string) (bool, error)
	IsUserVerified(ctx context.Context, userID snowflake.ID) (bool, error)
	VerificationCode(email string) string
	CheckVerificationCode(email, code string) bool
}

var (
	ErrInvalidEmail     = errors.New("invalid_email")
	ErrInvalidState     = errors.New("invalid_identity_state")
	ErrNotFound         = errors.New("identity_not_found")
	ErrInvalidCode      = errors.New("invalid_verification_code")
	ErrIdentityMismatch = errors.New("identity_mismatch")
)
