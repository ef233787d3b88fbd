package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/crmdesk/server/internal/datastore"
	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AdminHandler struct {
	DB        *gorm.DB
	Users     *services.UserService
	Products  *services.ProductService
	Clients   *services.ClientService
	Documents *services.DocumentService
	Audit     *services.AuditService
	Now       func() time.Time
}

type adminUserRequest struct {
	services.AdminUserUpdate
	Version int64 `json:"version"`
}

type OnlineUser struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"fullName"`
	LastActive *time.Time `json:"lastActive"`
}

type EntityStats struct {
	Total   int64 `json:"total"`
	Orphans int64 `json:"orphans"`
}

type AdminStats struct {
	Users       int64        `json:"users"`
	Admins      int64        `json:"admins"`
	Products    EntityStats  `json:"products"`
	Clients     EntityStats  `json:"clients"`
	Documents   EntityStats  `json:"documents"`
	ImportLogs  int64        `json:"importLogs"`
	OnlineUsers []OnlineUser `json:"onlineUsers"`
}

func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	opts := listOptions(c, services.UserSortFields)
	users, total, err := h.Users.List(c.UserContext(), opts)
	if err != nil {
		return serviceError(c, err, "user")
	}
	return utils.Paginated(c, users, opts.Page.Page, opts.Page.Limit, total)
}

func (h *AdminHandler) GetUser(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user ID")
	}
	user, err := h.Users.Get(c.UserContext(), id)
	if err != nil {
		return serviceError(c, err, "user")
	}
	setVersionHeader(c, user.Version)
	return utils.Success(c, fiber.StatusOK, user)
}

func (h *AdminHandler) UpdateUser(c *fiber.Ctx) error {
	admin := currentUser(c)
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user ID")
	}
	var req adminUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	version, err := expectedVersion(c, req.Version)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	user, err := h.Users.AdminUpdate(c.UserContext(), admin, id, version, req.AdminUserUpdate)
	if err != nil {
		return serviceError(c, err, "user")
	}
	details := map[string]interface{}{}
	if req.Role != nil {
		details["role"] = string(*req.Role)
	}
	if req.Password != nil {
		details["password_reset"] = true
	}
	recordAudit(h.Audit, c, admin, "admin_user_updated", "user", &user.ID, details)
	setVersionHeader(c, user.Version)
	return utils.Success(c, fiber.StatusOK, user)
}

func (h *AdminHandler) DeleteUser(c *fiber.Ctx) error {
	admin := currentUser(c)
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user ID")
	}

	if err := h.Users.AdminDelete(c.UserContext(), admin, id); err != nil {
		return serviceError(c, err, "user")
	}
	recordAudit(h.Audit, c, admin, "admin_user_deleted", "user", &id, nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "user deleted"})
}

// assign builds the reassignment handler for one owned collection.
func assign[T models.Owned](guard *services.Guard[T], audit *services.AuditService, resource string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		admin := currentUser(c)
		id, err := parseUUID(c.Params("id"))
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid "+resource+" ID")
		}
		var req assignRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
		}
		if req.UserID == uuid.Nil {
			return utils.FieldError(c, fiber.StatusBadRequest, "userId", "userId is required")
		}

		row, err := guard.Assign(c.UserContext(), admin, id, req.UserID)
		if err != nil {
			return serviceError(c, err, resource)
		}
		recordAudit(audit, c, admin, resource+"_assigned", resource, &id, map[string]interface{}{
			"userId": req.UserID.String(),
		})
		return utils.Success(c, fiber.StatusOK, row)
	}
}

func (h *AdminHandler) AssignProduct() fiber.Handler {
	return assign(h.Products.Guard, h.Audit, "product")
}

func (h *AdminHandler) AssignClient() fiber.Handler {
	return assign(h.Clients.Guard, h.Audit, "client")
}

func (h *AdminHandler) AssignDocument() fiber.Handler {
	return assign(h.Documents.Guard, h.Audit, "document")
}

func countEntity(ctx context.Context, db *gorm.DB, model interface{}) (EntityStats, error) {
	var stats EntityStats
	if err := db.WithContext(ctx).Model(model).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	err := db.WithContext(ctx).Model(model).Where("user_id IS NULL").Count(&stats.Orphans).Error
	return stats, err
}

func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	var stats AdminStats
	var err error

	if err = h.DB.WithContext(ctx).Model(&models.User{}).Count(&stats.Users).Error; err != nil {
		return serviceError(c, err, "stats")
	}
	if err = h.DB.WithContext(ctx).Model(&models.User{}).Where("role = ?", models.UserRoleAdmin).Count(&stats.Admins).Error; err != nil {
		return serviceError(c, err, "stats")
	}
	if stats.Products, err = countEntity(ctx, h.DB, &models.Product{}); err != nil {
		return serviceError(c, err, "stats")
	}
	if stats.Clients, err = countEntity(ctx, h.DB, &models.Client{}); err != nil {
		return serviceError(c, err, "stats")
	}
	if stats.Documents, err = countEntity(ctx, h.DB, &models.Document{}); err != nil {
		return serviceError(c, err, "stats")
	}
	if err = h.DB.WithContext(ctx).Model(&models.ImportLog{}).Count(&stats.ImportLogs).Error; err != nil {
		return serviceError(c, err, "stats")
	}

	stats.OnlineUsers = []OnlineUser{}
	err = h.DB.WithContext(ctx).Model(&models.User{}).
		Select("id", "email", "full_name", "last_active").
		Where("is_online = ?", true).
		Order("last_active DESC").
		Scan(&stats.OnlineUsers).Error
	if err != nil {
		return serviceError(c, err, "stats")
	}
	return utils.Success(c, fiber.StatusOK, stats)
}

// Backup exports the whole database in the legacy document layout.
func (h *AdminHandler) Backup(c *fiber.Ctx) error {
	admin := currentUser(c)
	doc, err := datastore.FromDatabase(c.UserContext(), h.DB)
	if err != nil {
		return serviceError(c, err, "backup")
	}

	logger.InfoWithUser(admin.ID.String(), "backup_exported", map[string]interface{}{
		"users":    len(doc.Users),
		"products": len(doc.Products),
		"clients":  len(doc.Clients),
	})
	recordAudit(h.Audit, c, admin, "backup_exported", "backup", nil, nil)

	name := fmt.Sprintf("crmdesk-backup-%s.json", h.Now().UTC().Format("20060102-150405"))
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	return c.JSON(doc)
}
