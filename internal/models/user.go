package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type User struct {
	BaseModel
	Email              string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash       string     `json:"-" gorm:"type:text;not null"`
	FullName           string     `json:"fullName" gorm:"type:varchar(200);not null;default:''"`
	Role               UserRole   `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	Phone              *string    `json:"phone,omitempty" gorm:"type:varchar(50)"`
	ProfilePicture     *string    `json:"profilePicture,omitempty" gorm:"type:text"`
	DarkMode           bool       `json:"darkMode" gorm:"not null;default:false"`
	LastLogin          *time.Time `json:"lastLogin,omitempty"`
	LastActive         *time.Time `json:"lastActive,omitempty"`
	IsOnline           bool       `json:"isOnline" gorm:"not null;default:false"`
	MustChangePassword bool       `json:"mustChangePassword" gorm:"not null;default:false"`
	Version            int64      `json:"version" gorm:"not null;default:1"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == UserRoleAdmin
}

// BeforeSave keeps emails lower-case so uniqueness is case-insensitive.
func (u *User) BeforeSave(_ *gorm.DB) error {
	u.Email = NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = UserRoleUser
	}
	return nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
