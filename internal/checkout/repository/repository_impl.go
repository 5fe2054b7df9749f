package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/checkout/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, checkout *domain.Checkout) error {
	return db.WithContext(ctx).Create(checkout).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Checkout, error) {
	var checkout domain.Checkout
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&checkout).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &checkout, nil
}

// FindActiveByKeyPrefix returns the newest created/awaiting checkout whose
// idempotency key starts with prefix. LIKE wildcards in emails may over-match,
// so candidates are re-checked in Go.
func (r *repo) FindActiveByKeyPrefix(ctx context.Context, db *gorm.DB, prefix string) (*domain.Checkout, error) {
	var candidates []domain.Checkout
	err := db.WithContext(ctx).
		Where("idempotency_key LIKE ?", prefix+"%").
		Where("status IN ?", []domain.Status{domain.StatusCreated, domain.StatusAwaitingPayment}).
		Order("created_at desc, id desc").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if strings.HasPrefix(candidates[i].IdempotencyKey, prefix) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Checkout, error) {
	stmt := db.WithContext(ctx).Model(&domain.Checkout{})
	if filter.UserID != nil {
		stmt = stmt.Where("user_id = ?", *filter.UserID)
	}
	if filter.CourseID != nil {
		stmt = stmt.Where("course_id = ?", *filter.CourseID)
	}
	if filter.Email != "" {
		stmt = stmt.Where("email = ?", filter.Email)
	}
	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", filter.Statuses)
	}
	var items []domain.Checkout
	if err := stmt.Order("created_at asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Checkout, error) {
	var items []domain.Checkout
	err := db.WithContext(ctx).
		Where("status IN ?", []domain.Status{domain.StatusCreated, domain.StatusAwaitingPayment}).
		Where("expires_at < ?", now).
		Order("expires_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListAwaiting(ctx context.Context, db *gorm.DB, method domain.Method, updatedBefore time.Time, limit int) ([]domain.Checkout, error) {
	var items []domain.Checkout
	err := db.WithContext(ctx).
		Where("status = ? AND method = ?", domain.StatusAwaitingPayment, method).
		Where("updated_at <= ?", updatedBefore).
		Order("updated_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, now time.Time) (bool, error) {
	query := `UPDATE checkouts SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []any{to, now, id, from}
	switch to {
	case domain.StatusPaid:
		query = `UPDATE checkouts SET status = ?, paid_at = ?, updated_at = ? WHERE id = ? AND status = ?`
		args = []any{to, now, now, id, from}
	case domain.StatusProvisioned:
		query = `UPDATE checkouts SET status = ?, provisioned_at = ?, updated_at = ? WHERE id = ? AND status = ?`
		args = []any{to, now, now, id, from}
	}
	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AttachUser(ctx context.Context, db *gorm.DB, id snowflake.ID, userID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE checkouts SET user_id = ?, updated_at = ? WHERE id = ?`,
		userID,
		now,
		id,
	).Error
}

func (r *repo) ResetExpiry(ctx context.Context, db *gorm.DB, id snowflake.ID, expiresAt, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE checkouts SET expires_at = ?, updated_at = ? WHERE id = ?`,
		expiresAt,
		now,
		id,
	).Error
}
