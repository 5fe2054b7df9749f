package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertCourse(ctx context.Context, db *gorm.DB, course *Course) error
	FindCourse(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Course, error)
	SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error)
	ListCourses(ctx context.Context, db *gorm.DB, publishedOnly bool) ([]Course, error)
	MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error

	InsertLesson(ctx context.Context, db *gorm.DB, lesson *Lesson) error
	FindLesson(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Lesson, error)
	ListLessons(ctx context.Context, db *gorm.DB, courseID snowflake.ID) ([]Lesson, error)
	NextLessonOrder(ctx context.Context, db *gorm.DB, courseID snowflake.ID) (int, error)
}
