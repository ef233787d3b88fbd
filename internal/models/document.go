package models

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	OwnedModel
	ClientID     *uuid.UUID `json:"clientId" gorm:"type:uuid;index"`
	OriginalName string     `json:"originalName" gorm:"type:varchar(255);not null"`
	FileName     string     `json:"fileName" gorm:"type:varchar(255);not null;uniqueIndex"`
	MimeType     string     `json:"mimeType" gorm:"type:varchar(255);not null"`
	Size         int64      `json:"size" gorm:"not null;default:0"`
	UploadedAt   time.Time  `json:"uploadedAt" gorm:"not null"`
}

func (Document) TableName() string {
	return "documents"
}

// IsPersonal reports whether the document is attached to no client.
func (d Document) IsPersonal() bool {
	return d.ClientID == nil
}
