package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	"gorm.io/gorm"
)

type Repository interface {
	FindByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (*EventRecord, error)
	// InsertEvent reports false when the dedupe key already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	SetOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome checkoutdomain.Outcome) error
	DeleteEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	ListByCheckout(ctx context.Context, db *gorm.DB, checkoutID snowflake.ID) ([]EventRecord, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]EventRecord, error)
}
