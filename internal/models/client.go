package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Client struct {
	OwnedModel
	Name          string        `json:"name" gorm:"type:varchar(255);not null"`
	PC            string        `json:"pc" gorm:"column:pc;type:varchar(100);not null;default:''"`
	Phone         string        `json:"phone" gorm:"type:varchar(50);not null;default:''"`
	Email         string        `json:"email" gorm:"type:varchar(255);not null;default:''"`
	ProductIDs    ProductIDList `json:"productIds" gorm:"type:jsonb"`
	LastContacted *time.Time    `json:"lastContacted,omitempty"`

	Comments  []ClientComment  `json:"comments" gorm:"foreignKey:ClientID"`
	Reminders []ClientReminder `json:"reminders" gorm:"foreignKey:ClientID"`
}

func (Client) TableName() string {
	return "clients"
}

// ClientComment keeps its author separately from the client's owner.
type ClientComment struct {
	BaseModel
	ClientID uuid.UUID  `json:"clientId" gorm:"type:uuid;not null;index"`
	UserID   *uuid.UUID `json:"userId" gorm:"type:uuid"`
	Text     string     `json:"text" gorm:"type:text;not null"`
}

func (ClientComment) TableName() string {
	return "client_comments"
}

type ClientReminder struct {
	BaseModel
	ClientID uuid.UUID  `json:"clientId" gorm:"type:uuid;not null;index"`
	UserID   *uuid.UUID `json:"userId" gorm:"type:uuid"`
	Date     time.Time  `json:"date" gorm:"not null;index"`
	Note     string     `json:"note" gorm:"type:text;not null;default:''"`
	Done     bool       `json:"done" gorm:"not null;default:false"`
}

func (ClientReminder) TableName() string {
	return "client_reminders"
}

// ProductIDList is stored as a JSON array so it can be written both by
// struct saves and by column map updates.
type ProductIDList []uuid.UUID

func (l ProductIDList) Value() (driver.Value, error) {
	if l == nil {
		l = ProductIDList{}
	}
	data, err := json.Marshal([]uuid.UUID(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *ProductIDList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = ProductIDList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported productIds column type %T", value)
	}
	if len(raw) == 0 {
		*l = ProductIDList{}
		return nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return err
	}
	*l = ProductIDList(ids)
	return nil
}
