package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type State string

const (
	StateAnonymous       State = "anonymous"
	StateKnownUnverified State = "known_unverified"
	StateVerified        State = "verified"
)

// Rank orders states; a merge keeps the highest rank seen.
func (s State) Rank() int {
	switch s {
	case StateAnonymous:
		return 0
	case StateKnownUnverified:
		return 1
	case StateVerified:
		return 2
	default:
		return -1
	}
}

func (s State) Valid() bool {
	return s.Rank() >= 0
}

// Identity is keyed by normalized email. Records are never deleted.
type Identity struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	Email     string        `gorm:"type:varchar(320);not null;uniqueIndex" json:"email"`
	UserID    *snowflake.ID `gorm:"index" json:"userId,omitempty"`
	State     State         `gorm:"type:varchar(32);not null" json:"state"`
	CreatedAt time.Time     `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time     `gorm:"not null" json:"updatedAt"`
}

func (Identity) TableName() string { return "identities" }

func (i Identity) Verified() bool {
	return i.State == StateVerified
}

const ReasonDowngradeRejected = "downgrade_rejected"

// UpsertResult reports what a merge did. Ignored merges leave the stored
// record untouched and carry the reason.
type UpsertResult struct {
	Identity Identity
	Created  bool
	Changed  bool
	Ignored  bool
	Reason   string
}
