package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type MaterializeRequest struct {
	UserID           snowflake.ID
	CourseID         snowflake.ID
	CheckoutID       *snowflake.ID
	Price            int64
	Currency         string
	PaymentMethod    string
	BnplInstallments int
}

type Service interface {
	// Materialize creates the purchase for (user, course) unless one exists.
	// The bool reports whether a new row was written.
	Materialize(ctx context.Context, req MaterializeRequest) (Purchase, bool, error)
	Get(ctx context.Context, id snowflake.ID) (Purchase, error)
	FindForUserCourse(ctx context.Context, userID, courseID snowflake.ID) (*Purchase, error)
	List(ctx context.Context, filter ListFilter) ([]Purchase, error)
	View(p Purchase) View
	PayInstallment(ctx context.Context, userID, purchaseID snowflake.ID) (View, error)
	PayRemaining(ctx context.Context, userID, purchaseID snowflake.ID) (View, error)
	RefreshSnapshots(ctx context.Context, courseID snowflake.ID) (int64, error)
	Delete(ctx context.Context, id snowflake.ID) error
	// RemoveAccessData deletes purchases and lesson progress for (user, course).
	RemoveAccessData(ctx context.Context, userID, courseID snowflake.ID) (int64, error)

	RecordLessonOpen(ctx context.Context, userID, courseID, lessonID snowflake.ID) error
	OpenedLessons(ctx context.Context, userID, courseID snowflake.ID) (map[snowflake.ID]bool, error)
}

var (
	ErrNotFound      = errors.New("purchase_not_found")
	ErrNotOwner      = errors.New("purchase_not_owned")
	ErrInvalidMethod = errors.New("invalid_payment_method")
)
