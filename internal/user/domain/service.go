package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateUserRequest struct {
	Email         string
	Name          string
	Phone         string
	Role          Role
	EmailVerified bool
}

type UpdateProfileRequest struct {
	Name  string
	Phone string
}

type Service interface {
	Create(ctx context.Context, req CreateUserRequest) (User, error)
	GetByID(ctx context.Context, id snowflake.ID) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	MarkEmailVerified(ctx context.Context, id snowflake.ID) error
	UpdateProfile(ctx context.Context, id snowflake.ID, req UpdateProfileRequest) (User, error)
}

var (
	ErrInvalidEmail = errors.New("invalid_email")
	ErrInvalidRole  = errors.New("invalid_role")
	ErrInvalidID    = errors.New("invalid_user_id")
	ErrEmailTaken   = errors.New("user_email_taken")
	ErrNotFound     = errors.New("user_not_found")
)
