package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error)
	MarkEmailVerified(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	UpdateProfile(ctx context.Context, db *gorm.DB, id snowflake.ID, name, phone string, now time.Time) error
}
