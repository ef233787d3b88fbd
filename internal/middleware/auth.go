package middleware

import (
	"strings"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/gorm"
)

const (
	currentUserKey = "currentUser"
	userIDKey      = "userID"
)

type AuthMiddleware struct {
	DB    *gorm.DB
	Users *services.UserService
	// TouchInterval throttles activity tracking. Zero touches on every request.
	TouchInterval time.Duration
	Now           func() time.Time
}

func NewAuthMiddleware(db *gorm.DB, users *services.UserService, touchInterval time.Duration) *AuthMiddleware {
	return &AuthMiddleware{DB: db, Users: users, TouchInterval: touchInterval, Now: time.Now}
}

func CORS(frontendURL string) fiber.Handler {
	origins := "http://localhost:3000,http://127.0.0.1:3000"
	if frontendURL != "" {
		origins = frontendURL
	}
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, If-Match",
		AllowMethods:  "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		ExposeHeaders: "Content-Disposition, X-Request-ID",
	})
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	header := c.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	if token == header || token == "" {
		return "", false
	}
	return token, true
}

// RequireAuth resolves the bearer token to a live user row. The row is
// loaded on every request so role changes and deletions apply immediately.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		logger.Warn("jwt_missing_header", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}

	tokenString, ok := bearerToken(c)
	if !ok {
		logger.Warn("jwt_invalid_format", map[string]interface{}{
			"ip":          c.IP(),
			"path":        c.Path(),
			"auth_header": authHeader[:min(len(authHeader), 20)] + "...",
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}

	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		logger.Warn("jwt_validation_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	var user models.User
	if err := a.DB.WithContext(c.UserContext()).First(&user, "id = ?", claims.UserID).Error; err != nil {
		logger.Warn("jwt_user_not_found", map[string]interface{}{
			"ip":      c.IP(),
			"path":    c.Path(),
			"user_id": claims.UserID.String(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "user not found")
	}

	a.touch(c, &user)

	c.Locals(currentUserKey, &user)
	c.Locals(userIDKey, user.ID.String())
	return c.Next()
}

// touch records activity at most once per TouchInterval. A failure is
// logged and never fails the request.
func (a *AuthMiddleware) touch(c *fiber.Ctx, user *models.User) {
	if a.Users == nil {
		return
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	if user.LastActive != nil && user.IsOnline && now.Sub(*user.LastActive) < a.TouchInterval {
		return
	}

	if err := a.Users.TouchActivity(c.UserContext(), user.ID, now); err != nil {
		logger.WarnWithUser(user.ID.String(), "activity_touch_failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	now = now.UTC()
	user.LastActive = &now
	user.IsOnline = true
}

func AdminOnly(c *fiber.Ctx) error {
	user := GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if !user.IsAdmin() {
		logger.WarnWithUser(user.ID.String(), "admin_access_denied", map[string]interface{}{
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusForbidden, "admin access required")
	}
	return c.Next()
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
