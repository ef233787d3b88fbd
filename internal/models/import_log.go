package models

import "github.com/google/uuid"

type ImportType string

const (
	ImportTypeProducts ImportType = "products"
	ImportTypeClients  ImportType = "clients"
)

type ImportStatus string

const (
	ImportStatusSuccess ImportStatus = "success"
	ImportStatusPartial ImportStatus = "partial"
	ImportStatusError   ImportStatus = "error"
)

type ImportRowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type ImportLog struct {
	BaseModel
	Type            ImportType       `json:"type" gorm:"type:varchar(20);not null;index"`
	ImportedBy      string           `json:"importedBy" gorm:"type:varchar(255);not null"`
	ImportedByID    uuid.UUID        `json:"importedById" gorm:"type:uuid;not null;index"`
	AssignedUserID  *uuid.UUID       `json:"assignedUserId,omitempty" gorm:"type:uuid"`
	FileName        string           `json:"fileName" gorm:"type:varchar(255);not null;default:''"`
	FileSize        int64            `json:"fileSize" gorm:"not null;default:0"`
	FileType        string           `json:"fileType" gorm:"type:varchar(20);not null;default:''"`
	TotalRows       int              `json:"totalRows" gorm:"not null;default:0"`
	SuccessfulCount int              `json:"successfulCount" gorm:"not null;default:0"`
	FailedCount     int              `json:"failedCount" gorm:"not null;default:0"`
	Status          ImportStatus     `json:"status" gorm:"type:varchar(20);not null"`
	Errors          []ImportRowError `json:"errors" gorm:"type:jsonb;serializer:json"`
	Successful      []uuid.UUID      `json:"successful" gorm:"type:jsonb;serializer:json"`
}

func (ImportLog) TableName() string {
	return "import_logs"
}

// OwnerID scopes import logs to the user who ran the import.
func (l ImportLog) OwnerID() *uuid.UUID {
	id := l.ImportedByID
	return &id
}

func ImportStatusFor(successful, failed int) ImportStatus {
	switch {
	case failed == 0:
		return ImportStatusSuccess
	case successful == 0:
		return ImportStatusError
	default:
		return ImportStatusPartial
	}
}
