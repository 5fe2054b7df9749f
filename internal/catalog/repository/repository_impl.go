package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCourse(ctx context.Context, db *gorm.DB, course *domain.Course) error {
	return db.WithContext(ctx).Create(course).Error
}

func (r *repo) FindCourse(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Course, error) {
	var course domain.Course
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&course).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &course, nil
}

func (r *repo) SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&domain.Course{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListCourses(ctx context.Context, db *gorm.DB, publishedOnly bool) ([]domain.Course, error) {
	var courses []domain.Course
	stmt := db.WithContext(ctx).Model(&domain.Course{})
	if publishedOnly {
		stmt = stmt.Where("published = ?", true)
	}
	if err := stmt.Order("id asc").Find(&courses).Error; err != nil {
		return nil, err
	}
	return courses, nil
}

func (r *repo) MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE courses SET published = ?, published_at = ?, updated_at = ? WHERE id = ?`,
		true,
		now,
		now,
		id,
	).Error
}

func (r *repo) InsertLesson(ctx context.Context, db *gorm.DB, lesson *domain.Lesson) error {
	return db.WithContext(ctx).Create(lesson).Error
}

func (r *repo) FindLesson(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Lesson, error) {
	var lesson domain.Lesson
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&lesson).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lesson, nil
}

func (r *repo) ListLessons(ctx context.Context, db *gorm.DB, courseID snowflake.ID) ([]domain.Lesson, error) {
	var lessons []domain.Lesson
	err := db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("position asc, id asc").
		Find(&lessons).Error
	if err != nil {
		return nil, err
	}
	return lessons, nil
}

func (r *repo) NextLessonOrder(ctx context.Context, db *gorm.DB, courseID snowflake.ID) (int, error) {
	var maxOrder *int
	if err := db.WithContext(ctx).
		Model(&domain.Lesson{}).
		Select("MAX(position)").
		Where("course_id = ?", courseID).
		Scan(&maxOrder).Error; err != nil {
		return 0, err
	}
	if maxOrder == nil {
		return 1, nil
	}
	return *maxOrder + 1, nil
}
