package services

import (
	"context"
	"errors"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/utils"
	"gorm.io/gorm"
)

var ErrInvalidResetToken = errors.New("reset token is invalid or expired")

// ResetNotifier delivers a freshly issued reset token to its user.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, user *models.User, token string, expiresAt time.Time) error
}

// LogNotifier writes the reset link to the structured log. It stands in for
// a mailer in development deployments.
type LogNotifier struct {
	FrontendURL string
}

func (n LogNotifier) SendPasswordReset(_ context.Context, user *models.User, token string, expiresAt time.Time) error {
	logger.InfoWithUser(user.ID.String(), "password_reset_link", map[string]interface{}{
		"link":       n.FrontendURL + "/reset-password?token=" + token,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	return nil
}

type PasswordResetService struct {
	DB       *gorm.DB
	TTL      time.Duration
	Notifier ResetNotifier
}

func NewPasswordResetService(db *gorm.DB, ttl time.Duration, notifier ResetNotifier) *PasswordResetService {
	return &PasswordResetService{DB: db, TTL: ttl, Notifier: notifier}
}

// Request issues a token for the account holding email. Unknown emails are
// not reported so the endpoint cannot be used to discover accounts.
func (s *PasswordResetService) Request(ctx context.Context, email string, now time.Time) error {
	var user models.User
	err := s.DB.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Warn("password_reset_unknown_email", map[string]interface{}{"email": models.NormalizeEmail(email)})
		return nil
	}
	if err != nil {
		return storageErr("load user", err)
	}

	raw, digest, err := utils.NewOpaqueToken()
	if err != nil {
		return &StorageError{Op: "generate reset token", Err: err}
	}

	token := models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: digest,
		ExpiresAt: now.Add(s.TTL).UTC(),
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.PasswordResetToken{}).
			Where("user_id = ? AND used_at IS NULL", user.ID).
			Update("used_at", now.UTC()).Error; err != nil {
			return err
		}
		return tx.Create(&token).Error
	})
	if err != nil {
		return storageErr("store reset token", err)
	}

	if s.Notifier != nil {
		if err := s.Notifier.SendPasswordReset(ctx, &user, raw, token.ExpiresAt); err != nil {
			logger.Error("password_reset_notify_failed", err, map[string]interface{}{
				"user_id": user.ID.String(),
			})
		}
	}
	return nil
}

// Confirm consumes the token and sets the new password. A token works once.
func (s *PasswordResetService) Confirm(ctx context.Context, rawToken, password string, now time.Time) (*models.User, error) {
	if len(password) < minPasswordLength {
		return nil, invalid("password", "password must be at least 8 characters")
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, &StorageError{Op: "hash password", Err: err}
	}

	var user models.User
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var token models.PasswordResetToken
		if err := tx.Where("token_hash = ?", utils.HashOpaqueToken(rawToken)).First(&token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidResetToken
			}
			return err
		}
		if !token.Usable(now) {
			return ErrInvalidResetToken
		}

		claimed := tx.Model(&models.PasswordResetToken{}).
			Where("id = ? AND used_at IS NULL", token.ID).
			Update("used_at", now.UTC())
		if claimed.Error != nil {
			return claimed.Error
		}
		if claimed.RowsAffected == 0 {
			return ErrInvalidResetToken
		}

		if err := tx.Model(&models.User{}).Where("id = ?", token.UserID).Updates(map[string]interface{}{
			"password_hash":        hash,
			"must_change_password": false,
			"version":              gorm.Expr("version + 1"),
		}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", token.UserID).First(&user).Error
	})
	if errors.Is(err, ErrInvalidResetToken) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr("reset password", err)
	}

	logger.InfoWithUser(user.ID.String(), "password_reset_completed", nil)
	return &user, nil
}
