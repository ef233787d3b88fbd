package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b *BaseModel) BeforeCreate(_ *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (b BaseModel) GetID() uuid.UUID {
	return b.ID
}

type Identified interface {
	GetID() uuid.UUID
}

// Owned is implemented by every record whose visibility is scoped to a user.
type Owned interface {
	Identified
	OwnerID() *uuid.UUID
}

// OwnedModel carries the owner and the optimistic concurrency counter shared
// by products, clients and documents. A nil UserID marks an orphan that only
// admins can see until it is reassigned.
type OwnedModel struct {
	BaseModel
	UserID  *uuid.UUID `json:"userId" gorm:"type:uuid;index"`
	Version int64      `json:"version" gorm:"not null;default:1"`
}

func (o OwnedModel) OwnerID() *uuid.UUID {
	return o.UserID
}

func (o OwnedModel) IsOwnedBy(userID uuid.UUID) bool {
	return o.UserID != nil && *o.UserID == userID
}
