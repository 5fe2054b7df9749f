package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, key string) (*Record, error)
	// Insert reports false when the key is already stored.
	Insert(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, key string) error
	DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
