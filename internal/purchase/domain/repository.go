package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	"gorm.io/gorm"
)

type ListFilter struct {
	UserID   *snowflake.ID
	CourseID *snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, purchase *Purchase) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Purchase, error)
	FindOldestForUserCourse(ctx context.Context, db *gorm.DB, userID, courseID snowflake.ID) (*Purchase, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Purchase, error)
	ListByCourse(ctx context.Context, db *gorm.DB, courseID snowflake.ID) ([]Purchase, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, plan *bnpldomain.Plan, now time.Time) error
	UpdateSnapshots(ctx context.Context, db *gorm.DB, courseID snowflake.ID, course CourseSnapshot, lessons []LessonSnapshot, now time.Time) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	DeleteForUserCourse(ctx context.Context, db *gorm.DB, userID, courseID snowflake.ID) (int64, error)

	InsertProgress(ctx context.Context, db *gorm.DB, progress *LessonProgress) (bool, error)
	ListProgress(ctx context.Context, db *gorm.DB, userID, courseID snowflake.ID) ([]LessonProgress, error)
	DeleteProgress(ctx context.Context, db *gorm.DB, userID, courseID snowflake.ID) (int64, error)
}
