package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	Users  *services.UserService
	Resets *services.PasswordResetService
	Audit  *services.AuditService
	Now    func() time.Time
}

func NewAuthHandler(users *services.UserService, resets *services.PasswordResetService, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{Users: users, Resets: resets, Audit: audit, Now: time.Now}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type UpdateProfileRequest struct {
	services.ProfileInput
	Version int64 `json:"version"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type ChangeEmailRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type DeleteAccountRequest struct {
	Password string `json:"password"`
}

type ResetRequest struct {
	Email string `json:"email"`
}

type ResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *AuthHandler) respondWithToken(c *fiber.Ctx, status int, user *models.User) error {
	token, err := utils.GenerateToken(user)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "token_generation_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate token")
	}
	return utils.Success(c, status, AuthResponse{Token: token, User: user})
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var input services.RegisterInput
	if err := c.BodyParser(&input); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.Users.Register(c.UserContext(), input)
	if err != nil {
		return serviceError(c, err, "user")
	}

	logger.InfoWithUser(user.ID.String(), "user_registered", map[string]interface{}{
		"email": user.Email,
		"ip":    c.IP(),
	})
	recordAudit(h.Audit, c, user, "user_registered", "user", &user.ID, map[string]interface{}{
		"email": user.Email,
	})
	return h.respondWithToken(c, fiber.StatusCreated, user)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	user, err := h.Users.Authenticate(c.UserContext(), req.Email, req.Password, h.Now())
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			logger.Warn("login_failed", map[string]interface{}{
				"email": models.NormalizeEmail(req.Email),
				"ip":    c.IP(),
			})
			recordAudit(h.Audit, c, nil, "login_failed", "user", nil, map[string]interface{}{
				"email": models.NormalizeEmail(req.Email),
			})
		}
		return serviceError(c, err, "user")
	}

	logger.InfoWithUser(user.ID.String(), "user_login", map[string]interface{}{
		"ip": c.IP(),
	})
	recordAudit(h.Audit, c, user, "user_login", "user", &user.ID, nil)
	return h.respondWithToken(c, fiber.StatusOK, user)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	user := currentUser(c)
	if err := h.Users.Logout(c.UserContext(), user); err != nil {
		return serviceError(c, err, "user")
	}
	recordAudit(h.Audit, c, user, "user_logout", "user", &user.ID, nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "logged out"})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	return utils.Success(c, fiber.StatusOK, currentUser(c))
}

func (h *AuthHandler) UpdateMe(c *fiber.Ctx) error {
	user := currentUser(c)
	var req UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	version, err := expectedVersion(c, req.Version)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	updated, err := h.Users.UpdateProfile(c.UserContext(), user, version, req.ProfileInput)
	if err != nil {
		return serviceError(c, err, "user")
	}
	recordAudit(h.Audit, c, user, "profile_updated", "user", &user.ID, nil)
	setVersionHeader(c, updated.Version)
	return utils.Success(c, fiber.StatusOK, updated)
}

// ChangePassword answers with a fresh token so the client can drop the one
// issued while mustChangePassword was set.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	user := currentUser(c)
	var req ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updated, err := h.Users.ChangePassword(c.UserContext(), user, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return serviceError(c, err, "user")
	}
	logger.InfoWithUser(user.ID.String(), "password_changed", nil)
	recordAudit(h.Audit, c, user, "password_changed", "user", &user.ID, nil)
	return h.respondWithToken(c, fiber.StatusOK, updated)
}

func (h *AuthHandler) ChangeEmail(c *fiber.Ctx) error {
	user := currentUser(c)
	var req ChangeEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	previous := user.Email
	updated, err := h.Users.ChangeEmail(c.UserContext(), user, req.Password, req.Email)
	if err != nil {
		return serviceError(c, err, "user")
	}
	recordAudit(h.Audit, c, user, "email_changed", "user", &user.ID, map[string]interface{}{
		"from": previous,
		"to":   updated.Email,
	})
	return h.respondWithToken(c, fiber.StatusOK, updated)
}

func (h *AuthHandler) DeleteMe(c *fiber.Ctx) error {
	user := currentUser(c)
	var req DeleteAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.Users.DeleteSelf(c.UserContext(), user, req.Password); err != nil {
		return serviceError(c, err, "user")
	}
	logger.InfoWithUser(user.ID.String(), "account_deleted", map[string]interface{}{
		"email": user.Email,
	})
	recordAudit(h.Audit, c, user, "account_deleted", "user", &user.ID, nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "account deleted"})
}

// RequestPasswordReset always answers 200 so the endpoint cannot be used to
// discover which emails are registered.
func (h *AuthHandler) RequestPasswordReset(c *fiber.Ctx) error {
	var req ResetRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" {
		return utils.FieldError(c, fiber.StatusBadRequest, "email", "email is required")
	}

	if err := h.Resets.Request(c.UserContext(), req.Email, h.Now()); err != nil {
		return serviceError(c, err, "user")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "if the address is registered, a reset link has been sent",
	})
}

func (h *AuthHandler) ConfirmPasswordReset(c *fiber.Ctx) error {
	var req ResetConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.Resets.Confirm(c.UserContext(), req.Token, req.Password, h.Now())
	if err != nil {
		return serviceError(c, err, "user")
	}
	recordAudit(h.Audit, c, user, "password_reset", "user", &user.ID, nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password updated"})
}
