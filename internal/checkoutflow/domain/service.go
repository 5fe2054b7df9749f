package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
)

type StartRequest struct {
	CourseID              snowflake.ID
	Email                 string
	Method                checkoutdomain.Method
	BnplInstallmentsCount *int
	ConsentAccepted       bool
}

type StartResult struct {
	Checkout checkoutdomain.Checkout    `json:"checkout"`
	Reused   bool                       `json:"reused"`
	Guest    bool                       `json:"guest"`
	Event    *paymentdomain.EventRecord `json:"event,omitempty"`
	Identity identitydomain.Identity    `json:"identity"`
}

type ConfirmResult struct {
	User                  userdomain.User           `json:"user"`
	Identity              identitydomain.Identity   `json:"identity"`
	ActivatedEntitlements int64                     `json:"activatedEntitlements"`
	Resumed               []checkoutdomain.Checkout `json:"resumed"`
}

type SweepResult struct {
	Scanned int `json:"scanned"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// Service drives a purchase attempt end to end. Every status change it
// causes goes through the payment event log.
type Service interface {
	StartCheckout(ctx context.Context, actor userdomain.Actor, req StartRequest) (StartResult, error)
	// Get returns a checkout the actor may see.
	Get(ctx context.Context, actor userdomain.Actor, checkoutID snowflake.ID) (checkoutdomain.Checkout, error)
	AttachCheckout(ctx context.Context, actor userdomain.Actor, checkoutID snowflake.ID) (checkoutdomain.Checkout, error)
	ConfirmIdentity(ctx context.Context, email, code string) (ConfirmResult, error)
	ResendVerification(ctx context.Context, email string) error
	Retry(ctx context.Context, actor userdomain.Actor, checkoutID snowflake.ID) (checkoutdomain.Checkout, error)
	Cancel(ctx context.Context, actor userdomain.Actor, checkoutID snowflake.ID) (paymentdomain.ProcessResult, error)
	ConfirmPaid(ctx context.Context, checkoutID snowflake.ID) (paymentdomain.ProcessResult, error)
	ExpireStale(ctx context.Context, limit int) (SweepResult, error)
	AutoSettle(ctx context.Context, limit int) (SweepResult, error)
}

var (
	ErrConsentRequired        = errors.New("consent_required")
	ErrEmailCollision         = errors.New("identity_email_collision")
	ErrAlreadyPurchased       = errors.New("course_already_purchased")
	ErrCourseUnavailable      = errors.New("course_not_available")
	ErrAuthenticationRequired = errors.New("authentication_required")
	ErrNotCheckoutOwner       = errors.New("checkout_not_owned")
)
