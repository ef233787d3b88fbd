package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/crmdesk/server/internal/middleware"
	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

// serviceError maps a typed service error onto the response envelope.
// resource names the record in 404 messages, e.g. "client".
func serviceError(c *fiber.Ctx, err error, resource string) error {
	var validation *services.ValidationError
	switch {
	case errors.As(err, &validation):
		if validation.Field == "" {
			return utils.Error(c, fiber.StatusBadRequest, validation.Message)
		}
		return utils.FieldError(c, fiber.StatusBadRequest, validation.Field, validation.Message)
	case errors.Is(err, services.ErrNotFound):
		return utils.Error(c, fiber.StatusNotFound, resource+" not found")
	case errors.Is(err, services.ErrAccessDenied):
		return utils.Error(c, fiber.StatusForbidden, "access denied")
	case errors.Is(err, services.ErrInvalidCredentials):
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, services.ErrInvalidResetToken):
		return utils.Error(c, fiber.StatusBadRequest, "reset token is invalid or expired")
	case errors.Is(err, services.ErrEmailTaken):
		return utils.Error(c, fiber.StatusConflict, "email already registered")
	case errors.Is(err, services.ErrLastAdmin):
		return utils.Error(c, fiber.StatusConflict, "at least one admin must remain")
	case errors.Is(err, services.ErrConflict):
		return utils.Error(c, fiber.StatusConflict, "record was modified by another request, reload and try again")
	}

	details := map[string]interface{}{
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": getRequestID(c),
	}
	if userID := logger.GetUserIDFromContext(c); userID != nil {
		logger.ErrorWithUser(*userID, "request_failed", err, details)
	} else {
		logger.Error("request_failed", err, details)
	}
	return utils.Error(c, fiber.StatusInternalServerError, "internal server error")
}

// expectedVersion prefers the If-Match header over the version in the body.
// Zero means the caller did not pin a version.
func expectedVersion(c *fiber.Ctx, bodyVersion int64) (int64, error) {
	header := strings.TrimSpace(c.Get("If-Match"))
	if header == "" {
		return bodyVersion, nil
	}
	header = strings.Trim(strings.TrimPrefix(header, "W/"), `"`)
	version, err := strconv.ParseInt(header, 10, 64)
	if err != nil || version < 1 {
		return 0, errors.New("If-Match must carry a positive version")
	}
	return version, nil
}

func setVersionHeader(c *fiber.Ctx, version int64) {
	c.Set("ETag", `"`+strconv.FormatInt(version, 10)+`"`)
}

func listOptions(c *fiber.Ctx, sortFields map[string]string) services.ListOptions {
	return services.ListOptions{
		Search: strings.TrimSpace(c.Query("search")),
		Sort:   utils.ParseSort(c, sortFields, ""),
		Page:   utils.ParsePagination(c),
	}
}

func recordAudit(audit *services.AuditService, c *fiber.Ctx, user *models.User, action, resourceType string, resourceID *uuid.UUID, details map[string]interface{}) {
	if audit == nil {
		return
	}
	var userID *uuid.UUID
	if user != nil {
		id := user.ID
		userID = &id
	}
	audit.LogAsync(services.AuditEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})
}

type idsRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

func parseIDs(c *fiber.Ctx) ([]uuid.UUID, error) {
	var req idsRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, err
	}
	if len(req.IDs) == 0 {
		return nil, errors.New("ids must not be empty")
	}
	return req.IDs, nil
}

type assignRequest struct {
	UserID uuid.UUID `json:"userId"`
}

func currentUser(c *fiber.Ctx) *models.User {
	return middleware.GetCurrentUser(c)
}
