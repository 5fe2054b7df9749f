package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIfAbsent reports whether a new row was written.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, identity *Identity) (bool, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Identity, error)
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Identity, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, userID *snowflake.ID, state State, now time.Time) error
}
