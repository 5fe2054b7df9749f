package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type UpsertCourseRequest struct {
	UserID     snowflake.ID
	CourseID   snowflake.ID
	SourceType SourceType
	SourceID   snowflake.ID
	Activate   bool
}

// RevokeResult describes a course revocation. Entitlement is nil when no live
// record existed; purchase data is removed either way.
type RevokeResult struct {
	Entitlement      *Entitlement `json:"entitlement,omitempty"`
	PurchasesRemoved int64        `json:"purchasesRemoved"`
}

type Service interface {
	// UpsertCourseEntitlement keeps at most one live course_access record per
	// (user, course).
	UpsertCourseEntitlement(ctx context.Context, req UpsertCourseRequest) (Entitlement, error)
	ActivatePendingEntitlements(ctx context.Context, userID snowflake.ID) (int64, error)
	GrantBookingTrial(ctx context.Context, userID, courseID, bookingID snowflake.ID) (Entitlement, error)
	RevokeCourseAccess(ctx context.Context, userID, courseID snowflake.ID, reason string) (RevokeResult, error)
	RevokeBookingEntitlements(ctx context.Context, bookingID snowflake.ID) (int, error)
	FindCourseEntitlement(ctx context.Context, userID, courseID snowflake.ID) (*Entitlement, error)
	List(ctx context.Context, filter ListFilter) ([]Entitlement, error)
}

var (
	ErrIdentityUnverified = errors.New("identity_unverified")
	ErrNotFound           = errors.New("entitlement_not_found")
	ErrInvalidRequest     = errors.New("invalid_entitlement_request")
	ErrConcurrentUpdate   = errors.New("entitlement_concurrent_update")
)
