package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/outbox/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, msg *domain.Message) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(msg)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (*domain.Message, error) {
	return r.findOne(ctx, db, "dedupe_key = ?", dedupeKey)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Message, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.Message, error) {
	var msg domain.Message
	if err := db.WithContext(ctx).Where(query, arg).Take(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Message, error) {
	var items []domain.Message
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusQueued).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Message, error) {
	stmt := db.WithContext(ctx).Model(&domain.Message{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.RecipientEmail != "" {
		stmt = stmt.Where("recipient_email = ?", filter.RecipientEmail)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	var items []domain.Message
	if err := stmt.Order("id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE outbox_messages
		 SET status = ?, attempt_count = 0, next_attempt_at = NULL,
			last_error_code = '', last_error = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusQueued,
		now,
		id,
		domain.StatusFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, provider, providerMessageID string, attempts int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_messages
		 SET status = ?, provider = ?, provider_message_id = ?, attempt_count = ?,
			next_attempt_at = NULL, sent_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusSent,
		provider,
		providerMessageID,
		attempts,
		now,
		now,
		id,
		domain.StatusQueued,
	).Error
}

func (r *repo) MarkAttemptFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.AttemptFailure) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_messages
		 SET status = ?, provider = ?, attempt_count = ?, next_attempt_at = ?,
			last_error_code = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		update.Status,
		update.Provider,
		update.AttemptCount,
		update.NextAttemptAt,
		update.ErrorCode,
		update.Error,
		update.Now,
		id,
		domain.StatusQueued,
	).Error
}
