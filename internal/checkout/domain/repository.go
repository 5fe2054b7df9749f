package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	UserID   *snowflake.ID
	CourseID *snowflake.ID
	Email    string
	Statuses []Status
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, checkout *Checkout) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Checkout, error)
	FindActiveByKeyPrefix(ctx context.Context, db *gorm.DB, prefix string) (*Checkout, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Checkout, error)
	ListExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Checkout, error)
	ListAwaiting(ctx context.Context, db *gorm.DB, method Method, updatedBefore time.Time, limit int) ([]Checkout, error)
	// CompareAndSetStatus moves the checkout only if it is still in from.
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, now time.Time) (bool, error)
	AttachUser(ctx context.Context, db *gorm.DB, id snowflake.ID, userID snowflake.ID, now time.Time) error
	ResetExpiry(ctx context.Context, db *gorm.DB, id snowflake.ID, expiresAt, now time.Time) error
}
