package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindCourseAccess       Kind = "course_access"
	KindTrialAccessLimited Kind = "trial_access_limited"
)

type State string

const (
	StatePendingActivation State = "pending_activation"
	StateActive            State = "active"
	StateRevoked           State = "revoked"
)

type SourceType string

const (
	SourceCheckout SourceType = "checkout"
	SourceBooking  SourceType = "booking"
)

type Entitlement struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID  `gorm:"not null;index:idx_entitlements_user_course" json:"userId"`
	Kind        Kind          `gorm:"type:varchar(32);not null" json:"kind"`
	State       State         `gorm:"type:varchar(32);not null;index" json:"state"`
	SourceType  SourceType    `gorm:"type:varchar(16);not null" json:"sourceType"`
	SourceID    snowflake.ID  `gorm:"not null;index" json:"sourceId"`
	CourseID    *snowflake.ID `gorm:"index:idx_entitlements_user_course" json:"courseId,omitempty"`
	ActivatedAt *time.Time    `json:"activatedAt,omitempty"`
	RevokedAt   *time.Time    `json:"revokedAt,omitempty"`
	CreatedAt   time.Time     `gorm:"not null" json:"createdAt"`
	UpdatedAt   time.Time     `gorm:"not null" json:"updatedAt"`
}

func (Entitlement) TableName() string { return "entitlements" }

func (e Entitlement) Active() bool {
	return e.State == StateActive
}

var transitions = map[State][]State{
	StatePendingActivation: {StateActive, StateRevoked},
	StateActive:            {StateRevoked},
}

func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid_entitlement_transition")

type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Transition validates a move along pending_activation -> active -> revoked.
func Transition(from, to State) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
