package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem  ActorType = "system"
	ActorTypeSupport ActorType = "support"
	ActorTypeTeacher ActorType = "teacher"
	ActorTypeStudent ActorType = "student"
)

// SupportAction is an immutable record of a repair applied to a learner's
// purchase data.
type SupportAction struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType ActorType         `gorm:"type:varchar(16);not null" json:"actorType"`
	ActorID   *snowflake.ID     `json:"actorId,omitempty"`
	Action    string            `gorm:"type:varchar(64);not null;index" json:"action"`
	UserID    snowflake.ID      `gorm:"not null;index" json:"userId"`
	CourseID  snowflake.ID      `gorm:"not null" json:"courseId"`
	IssueType string            `gorm:"type:varchar(64);not null;default:''" json:"issueType"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	CreatedAt time.Time         `gorm:"not null" json:"createdAt"`
}

func (SupportAction) TableName() string { return "support_actions" }

type ListFilter struct {
	Action   string
	UserID   *snowflake.ID
	BeforeID *snowflake.ID
	Limit    int
}
