package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleSupport Role = "support"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleSupport:
		return true
	default:
		return false
	}
}

type User struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Email         string       `gorm:"type:varchar(320);not null;uniqueIndex" json:"email"`
	Name          string       `gorm:"type:varchar(255);not null;default:''" json:"name"`
	Phone         string       `gorm:"type:varchar(64);not null;default:''" json:"phone"`
	Role          Role         `gorm:"type:varchar(32);not null" json:"role"`
	EmailVerified bool         `gorm:"not null;default:false" json:"emailVerified"`
	CreatedAt     time.Time    `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// ProfileComplete reports whether the user filled in the contact details
// self-service repairs rely on.
func (u User) ProfileComplete() bool {
	return strings.TrimSpace(u.Name) != "" && strings.TrimSpace(u.Phone) != ""
}

// NormalizeEmail is the canonical form used as identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

// Actor is the caller of a request. A nil User means anonymous.
type Actor struct {
	User *User
}

func (a Actor) Anonymous() bool { return a.User == nil }

func (a Actor) Role() Role {
	if a.User == nil {
		return ""
	}
	return a.User.Role
}

func (a Actor) UserID() snowflake.ID {
	if a.User == nil {
		return 0
	}
	return a.User.ID
}

func (a Actor) IsStaff() bool {
	return a.Role() == RoleTeacher || a.Role() == RoleSupport
}
