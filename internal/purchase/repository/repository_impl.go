package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	"github.com/smallbiznis/coursemart/internal/purchase/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, purchase *domain.Purchase) error {
	return db.WithContext(ctx).Create(purchase).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Purchase, error) {
	var purchase domain.Purchase
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&purchase).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

func (r *repo) FindOldestForUserCourse(ctx context.Context, db *gorm.DB, userID, courseID snowflake.ID) (*domain.Purchase, error) {
	var purchase domain.Purchase
	err := db.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Order("purchased_at asc, id asc").
		Take(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Purchase, error) {
	stmt := db.WithContext(ctx).Model(&domain.Purchase{})
	if filter.UserID != nil {
		stmt = stmt.Where("user_id = ?", *filter.UserID)
	}
	if filter.CourseID != nil {
		stmt = stmt.Where("course_id = ?", *filter.CourseID)
	}
	var items []domain.Purchase
	if err := stmt.Order("purchased_at asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByCourse(ctx context.Context, db *gorm.DB, courseID snowflake.ID) ([]domain.Purchase, error) {
	return r.List(ctx, db, domain.ListFilter{CourseID: &courseID})
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, plan *bnpldomain.Plan, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE purchases SET bnpl = ?, updated_at = ? WHERE id = ?`,
		datatypes.NewJSONType(plan),
		now,
		id,
	).Error
}

func (r *repo) UpdateSnapshots(ctx context.Context, db *gorm.DB, courseID snowflake.ID, course domain.CourseSnapshot, lessons []domain.LessonSnapshot, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE purchases SET course_snapshot = ?, lessons_snapshot = ?, updated_at = ? WHERE course_id = ?`,
		datatypes.NewJSONType(course),
		datatypes.NewJSONSlice(lessons),
		now,
		courseID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM purchases WHERE id = ?`, id).Error
}

func (r *repo) DeleteForUserCourse(ctx context.Context, db *gorm.DB, userID, courseID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM purchases WHERE user_id = ? AND course_id = ?`,
		userID,
		courseID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) InsertProgress(ctx context.Context, db *gorm.DB, progress *domain.LessonProgress) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "lesson_id"}},
			DoNothing: true,
		}).
		Create(progress)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListProgress(ctx context.Context, db *gorm.DB, userID, courseID snowflake.ID) ([]domain.LessonProgress, error) {
	var items []domain.LessonProgress
	err := db.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Order("opened_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) DeleteProgress(ctx context.Context, db *gorm.DB, userID, courseID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM lesson_progress WHERE user_id = ? AND course_id = ?`,
		userID,
		courseID,
	)
	return res.RowsAffected, res.Error
}
