package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record is a stored response for a client supplied idempotency key.
type Record struct {
	Key          string    `gorm:"column:idempotency_key;primaryKey;type:varchar(255)" json:"key"`
	Method       string    `gorm:"type:varchar(16);not null" json:"method"`
	Path         string    `gorm:"type:varchar(512);not null" json:"path"`
	BodyHash     string    `gorm:"type:varchar(64);not null" json:"bodyHash"`
	StatusCode   int       `gorm:"not null" json:"statusCode"`
	ContentType  string    `gorm:"type:varchar(128);not null;default:''" json:"contentType"`
	ResponseBody []byte    `gorm:"not null" json:"-"`
	ExpiresAt    time.Time `gorm:"not null;index" json:"expiresAt"`
	CreatedAt    time.Time `gorm:"not null" json:"createdAt"`
}

func (Record) TableName() string { return "idempotency_records" }

type Fingerprint struct {
	Key      string
	Method   string
	Path     string
	BodyHash string
}

func (r Record) Matches(fp Fingerprint) bool {
	return r.Method == fp.Method && r.Path == fp.Path && r.BodyHash == fp.BodyHash
}

type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
