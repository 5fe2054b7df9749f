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
	Kind     Kind
	State    State
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, ent *Entitlement) error
	FindLive(ctx context.Context, db *gorm.DB, userID snowflake.ID, kind Kind, courseID snowflake.ID) (*Entitlement, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Entitlement, error)
	ListBySource(ctx context.Context, db *gorm.DB, sourceType SourceType, sourceID snowflake.ID) ([]Entitlement, error)
	UpdateState(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to State, now time.Time) (bool, error)
	UpdateSource(ctx context.Context, db *gorm.DB, id snowflake.ID, sourceType SourceType, sourceID snowflake.ID, now time.Time) error
	ActivatePending(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) (int64, error)
}
