package models

import (
	"time"

	"github.com/google/uuid"
)

// PasswordResetToken stores only the sha256 digest of the emailed token.
type PasswordResetToken struct {
	BaseModel
	UserID    uuid.UUID  `json:"userId" gorm:"type:uuid;not null;index"`
	TokenHash string     `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`
	ExpiresAt time.Time  `json:"expiresAt" gorm:"not null"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

func (PasswordResetToken) TableName() string {
	return "password_reset_tokens"
}

func (t PasswordResetToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
