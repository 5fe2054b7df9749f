package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	"github.com/smallbiznis/coursemart/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Where("dedupe_key = ?", dedupeKey).Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome checkoutdomain.Outcome) error {
	return db.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("id = ?", id).
		Update("outcome", outcome).Error
}

func (r *repo) DeleteEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.EventRecord{}).Error
}

func (r *repo) ListByCheckout(ctx context.Context, db *gorm.DB, checkoutID snowflake.ID) ([]domain.EventRecord, error) {
	var items []domain.EventRecord
	err := db.WithContext(ctx).
		Where("checkout_id = ?", checkoutID).
		Order("processed_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.EventRecord, error) {
	stmt := db.WithContext(ctx).Model(&domain.EventRecord{})
	if len(filter.CheckoutIDs) > 0 {
		stmt = stmt.Where("checkout_id IN ?", filter.CheckoutIDs)
	}
	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", filter.Statuses)
	}
	var items []domain.EventRecord
	if err := stmt.Order("processed_at asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
