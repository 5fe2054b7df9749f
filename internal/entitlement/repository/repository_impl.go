package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/entitlement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, ent *domain.Entitlement) error {
	return db.WithContext(ctx).Create(ent).Error
}

func (r *repo) FindLive(ctx context.Context, db *gorm.DB, userID snowflake.ID, kind domain.Kind, courseID snowflake.ID) (*domain.Entitlement, error) {
	var ent domain.Entitlement
	err := db.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND course_id = ? AND state <> ?", userID, kind, courseID, domain.StateRevoked).
		Order("id asc").
		Take(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ent, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Entitlement, error) {
	stmt := db.WithContext(ctx).Model(&domain.Entitlement{})
	if filter.UserID != nil {
		stmt = stmt.Where("user_id = ?", *filter.UserID)
	}
	if filter.CourseID != nil {
		stmt = stmt.Where("course_id = ?", *filter.CourseID)
	}
	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.State != "" {
		stmt = stmt.Where("state = ?", filter.State)
	}
	var items []domain.Entitlement
	if err := stmt.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListBySource(ctx context.Context, db *gorm.DB, sourceType domain.SourceType, sourceID snowflake.ID) ([]domain.Entitlement, error) {
	var items []domain.Entitlement
	err := db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateState moves a record only if it is still in from.
func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.State, now time.Time) (bool, error) {
	query := `UPDATE entitlements SET state = ?, updated_at = ? WHERE id = ? AND state = ?`
	args := []any{to, now, id, from}
	switch to {
	case domain.StateActive:
		query = `UPDATE entitlements SET state = ?, activated_at = ?, updated_at = ? WHERE id = ? AND state = ?`
		args = []any{to, now, now, id, from}
	case domain.StateRevoked:
		query = `UPDATE entitlements SET state = ?, revoked_at = ?, updated_at = ? WHERE id = ? AND state = ?`
		args = []any{to, now, now, id, from}
	}
	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateSource(ctx context.Context, db *gorm.DB, id snowflake.ID, sourceType domain.SourceType, sourceID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE entitlements SET source_type = ?, source_id = ?, updated_at = ? WHERE id = ?`,
		sourceType,
		sourceID,
		now,
		id,
	).Error
}

func (r *repo) ActivatePending(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE entitlements SET state = ?, activated_at = ?, updated_at = ? WHERE user_id = ? AND state = ?`,
		domain.StateActive,
		now,
		now,
		userID,
		domain.StatePendingActivation,
	)
	return res.RowsAffected, res.Error
}
