package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Course struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Slug        string       `gorm:"type:varchar(255);not null;uniqueIndex" json:"slug"`
	Title       string       `gorm:"type:varchar(255);not null" json:"title"`
	Description string       `gorm:"type:text;not null;default:''" json:"description"`
	TeacherID   snowflake.ID `gorm:"not null;index" json:"teacherId"`
	Price       int64        `gorm:"not null" json:"price"`
	Currency    string       `gorm:"type:varchar(8);not null" json:"currency"`
	Published   bool         `gorm:"not null;default:false" json:"published"`
	PublishedAt *time.Time   `json:"publishedAt,omitempty"`
	CreatedAt   time.Time    `gorm:"not null" json:"createdAt"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updatedAt"`
}

func (Course) TableName() string { return "courses" }

type Lesson struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	CourseID  snowflake.ID `gorm:"not null;index" json:"courseId"`
	Order     int          `gorm:"column:position;not null" json:"order"`
	Title     string       `gorm:"type:varchar(255);not null" json:"title"`
	Content   string       `gorm:"type:text;not null;default:''" json:"content"`
	Published bool         `gorm:"not null;default:true" json:"published"`
	CreatedAt time.Time    `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time    `gorm:"not null" json:"updatedAt"`
}

func (Lesson) TableName() string { return "lessons" }
