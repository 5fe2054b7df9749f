package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusQueued Status = "queued"
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusSent, StatusFailed:
		return true
	}
	return false
}

const ChannelEmail = "email"

type Template string

const (
	TemplateIdentityVerification Template = "identity_verification"
	TemplatePurchaseConfirmation Template = "purchase_confirmation"
	TemplateBnplInstallmentPaid  Template = "bnpl_installment_paid"
	TemplateBnplCompleted        Template = "bnpl_completed"
	TemplateAccessRevoked        Template = "access_revoked"
)

// Message is one queued notification. DedupeKey is unique across the table.
type Message struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	Channel           string            `gorm:"type:varchar(16);not null" json:"channel"`
	Provider          string            `gorm:"type:varchar(32);not null;default:''" json:"provider"`
	Template          Template          `gorm:"type:varchar(64);not null" json:"template"`
	DedupeKey         string            `gorm:"type:varchar(255);not null;uniqueIndex" json:"dedupeKey"`
	RecipientEmail    string            `gorm:"type:varchar(320);not null" json:"recipientEmail"`
	Subject           string            `gorm:"type:varchar(255);not null" json:"subject"`
	Body              string            `gorm:"type:text;not null" json:"body"`
	Data              datatypes.JSONMap `json:"data,omitempty"`
	Status            Status            `gorm:"type:varchar(16);not null;index" json:"status"`
	AttemptCount      int               `gorm:"not null;default:0" json:"attemptCount"`
	MaxAttempts       int               `gorm:"not null" json:"maxAttempts"`
	NextAttemptAt     *time.Time        `gorm:"index" json:"nextAttemptAt,omitempty"`
	LastErrorCode     string            `gorm:"type:varchar(64);not null;default:''" json:"lastErrorCode,omitempty"`
	LastError         string            `gorm:"type:text;not null;default:''" json:"lastError,omitempty"`
	ProviderMessageID string            `gorm:"type:varchar(128);not null;default:''" json:"providerMessageId,omitempty"`
	SentAt            *time.Time        `json:"sentAt,omitempty"`
	CreatedAt         time.Time         `gorm:"not null" json:"createdAt"`
	UpdatedAt         time.Time         `gorm:"not null" json:"updatedAt"`
}

func (Message) TableName() string { return "outbox_messages" }

type DispatchResult struct {
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
}
