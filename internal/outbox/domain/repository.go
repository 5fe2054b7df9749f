package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, msg *Message) (bool, error)
	FindByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (*Message, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Message, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Message, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Message, error)
	Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, provider, providerMessageID string, attempts int, now time.Time) error
	MarkAttemptFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, update AttemptFailure) error
}

type ListFilter struct {
	Status         Status
	RecipientEmail string
	Limit          int
}

type AttemptFailure struct {
	Provider      string
	Status        Status
	AttemptCount  int
	NextAttemptAt *time.Time
	ErrorCode     string
	Error         string
	Now           time.Time
}
