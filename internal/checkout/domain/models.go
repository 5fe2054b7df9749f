package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
)

type Method string

const (
	MethodMock Method = "mock"
	MethodCard Method = "card"
	MethodSBP  Method = "sbp"
	MethodBnpl Method = "bnpl"
)

func (m Method) Valid() bool {
	switch m {
	case MethodMock, MethodCard, MethodSBP, MethodBnpl:
		return true
	}
	return false
}

type Status string

const (
	StatusCreated         Status = "created"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusProvisioning    Status = "provisioning"
	StatusProvisioned     Status = "provisioned"
	StatusFailed          Status = "failed"
	StatusCanceled        Status = "canceled"
	StatusExpired         Status = "expired"
)

// Active reports whether the checkout can still be paid without a retry.
func (s Status) Active() bool {
	return s == StatusCreated || s == StatusAwaitingPayment
}

func (s Status) Negative() bool {
	return s == StatusFailed || s == StatusCanceled || s == StatusExpired
}

// Captured reports whether money has been collected.
func (s Status) Captured() bool {
	return s == StatusPaid || s == StatusProvisioning || s == StatusProvisioned
}

func (s Status) Terminal() bool {
	return s == StatusProvisioned || s.Negative()
}

// EventStatus reports whether s may be carried by a payment event.
func (s Status) EventStatus() bool {
	return s == StatusAwaitingPayment || s == StatusPaid || s.Negative()
}

type Checkout struct {
	ID                    snowflake.ID  `gorm:"primaryKey" json:"id"`
	IdempotencyKey        string        `gorm:"type:varchar(512);not null;uniqueIndex" json:"idempotencyKey"`
	UserID                *snowflake.ID `gorm:"index" json:"userId,omitempty"`
	Email                 string        `gorm:"type:varchar(320);not null;index" json:"email"`
	CourseID              snowflake.ID  `gorm:"not null;index" json:"courseId"`
	Amount                int64         `gorm:"not null" json:"amount"`
	Currency              string        `gorm:"type:varchar(8);not null" json:"currency"`
	Method                Method        `gorm:"type:varchar(16);not null" json:"method"`
	BnplInstallmentsCount *int          `json:"bnplInstallmentsCount,omitempty"`
	Status                Status        `gorm:"type:varchar(32);not null;index" json:"status"`
	ExpiresAt             time.Time     `gorm:"not null;index" json:"expiresAt"`
	PaidAt                *time.Time    `json:"paidAt,omitempty"`
	ProvisionedAt         *time.Time    `json:"provisionedAt,omitempty"`
	CreatedAt             time.Time     `gorm:"not null" json:"createdAt"`
	UpdatedAt             time.Time     `gorm:"not null;index" json:"updatedAt"`
}

func (Checkout) TableName() string { return "checkouts" }

// KeyPrefix is shared by every attempt for the same (email, course).
func KeyPrefix(email string, courseID snowflake.ID) string {
	return fmt.Sprintf("checkout:%s:%s:", userdomain.NormalizeEmail(email), courseID)
}

func IdempotencyKey(email string, courseID, attemptID snowflake.ID) string {
	return KeyPrefix(email, courseID) + attemptID.String()
}

func HasKeyPrefix(key, email string, courseID snowflake.ID) bool {
	return strings.HasPrefix(key, KeyPrefix(email, courseID))
}

type Outcome string

const (
	OutcomeApplied                Outcome = "applied"
	OutcomeDuplicate              Outcome = "duplicate"
	OutcomeIgnoredOutOfOrder      Outcome = "ignored_out_of_order"
	OutcomeIgnoredMissingCheckout Outcome = "ignored_missing_checkout"
	// OutcomePending marks a ledger row reserved before the status is applied.
	OutcomePending Outcome = "pending"
)

type ApplyResult struct {
	Checkout Checkout
	From     Status
	Outcome  Outcome
}

// LockKey serializes every state change of one checkout.
func LockKey(id snowflake.ID) string {
	return "checkout:" + id.String()
}
