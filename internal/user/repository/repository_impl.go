package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO users (id, email, name, phone, role, email_verified, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Name,
		user.Phone,
		user.Role,
		user.EmailVerified,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	return r.first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return r.first(db.WithContext(ctx).Where("email = ?", email))
}

func (r *repo) first(stmt *gorm.DB) (*domain.User, error) {
	var user domain.User
	if err := stmt.Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repo) MarkEmailVerified(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users SET email_verified = ?, updated_at = ? WHERE id = ?`,
		true,
		now,
		id,
	).Error
}

func (r *repo) UpdateProfile(ctx context.Context, db *gorm.DB, id snowflake.ID, name, phone string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users SET name = ?, phone = ?, updated_at = ? WHERE id = ?`,
		name,
		phone,
		now,
		id,
	).Error
}
