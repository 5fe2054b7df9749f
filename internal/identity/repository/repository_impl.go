package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/identity/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, identity *domain.Identity) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(identity)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Identity, error) {
	return r.findOne(ctx, db, "email = ?", email)
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Identity, error) {
	return r.findOne(ctx, db, "user_id = ?", userID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.Identity, error) {
	var identity domain.Identity
	err := db.WithContext(ctx).Where(query, arg).Order("id asc").Take(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &identity, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, userID *snowflake.ID, state domain.State, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE identities SET user_id = ?, state = ?, updated_at = ? WHERE id = ?`,
		userID,
		state,
		now,
		id,
	).Error
}
