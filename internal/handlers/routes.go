package handlers

import (
	"time"

	"github.com/crmdesk/server/internal/middleware"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/downloadlink"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/metrics"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type Dependencies struct {
	DB        *gorm.DB
	Auth      *middleware.AuthMiddleware
	Users     *services.UserService
	Resets    *services.PasswordResetService
	Products  *services.ProductService
	Clients   *services.ClientService
	Documents *services.DocumentService
	Imports   *services.ImportService
	Audit     *services.AuditService
	Links     *downloadlink.Signer
}

func health(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			logger.Error("health_check_failed", err, nil)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	}
}

// SetupRoutes registers every endpoint. Bulk routes come before the /:id
// routes they would otherwise be matched by.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	authHandler := NewAuthHandler(deps.Users, deps.Resets, deps.Audit)
	productHandler := NewProductHandler(deps.Products, deps.Imports, deps.Audit)
	clientHandler := NewClientHandler(deps.Clients, deps.Imports, deps.Audit)
	documentHandler := NewDocumentHandler(deps.Documents, deps.Users, deps.Links, deps.Audit)
	importHandler := NewImportHandler(deps.Imports, deps.Audit)
	auditHandler := NewAuditHandler(deps.Audit)
	adminHandler := &AdminHandler{
		DB:        deps.DB,
		Users:     deps.Users,
		Products:  deps.Products,
		Clients:   deps.Clients,
		Documents: deps.Documents,
		Audit:     deps.Audit,
		Now:       time.Now,
	}
	requireAuth := deps.Auth.RequireAuth

	app.Get("/health", health(deps.DB))
	app.Get("/metrics", metrics.Handler())

	api := app.Group("/api")
	api.Get("/version", GetVersion)

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/password-reset/request", authHandler.RequestPasswordReset)
	authRoutes.Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)
	authRoutes.Post("/logout", requireAuth, authHandler.Logout)
	authRoutes.Get("/me", requireAuth, authHandler.Me)
	authRoutes.Put("/me", requireAuth, authHandler.UpdateMe)
	authRoutes.Delete("/me", requireAuth, authHandler.DeleteMe)
	authRoutes.Put("/password", requireAuth, authHandler.ChangePassword)
	authRoutes.Put("/email", requireAuth, authHandler.ChangeEmail)

	api.Get("/download/:id", documentHandler.DownloadWithLink)

	productRoutes := api.Group("/products", requireAuth)
	productRoutes.Get("/", productHandler.List)
	productRoutes.Post("/", productHandler.Create)
	productRoutes.Post("/bulk", productHandler.BulkCreate)
	productRoutes.Delete("/bulk", productHandler.BulkDelete)
	productRoutes.Get("/:id", productHandler.Get)
	productRoutes.Put("/:id", productHandler.Update)
	productRoutes.Delete("/:id", productHandler.Delete)

	clientRoutes := api.Group("/clients", requireAuth)
	clientRoutes.Get("/", clientHandler.List)
	clientRoutes.Post("/", clientHandler.Create)
	clientRoutes.Post("/bulk", clientHandler.BulkCreate)
	clientRoutes.Delete("/bulk", clientHandler.BulkDelete)
	clientRoutes.Get("/:id", clientHandler.Get)
	clientRoutes.Put("/:id", clientHandler.Update)
	clientRoutes.Delete("/:id", clientHandler.Delete)
	clientRoutes.Post("/:id/contacted", clientHandler.MarkContacted)
	clientRoutes.Post("/:id/comments", clientHandler.AddComment)
	clientRoutes.Delete("/:id/comments/:commentId", clientHandler.DeleteComment)
	clientRoutes.Post("/:id/reminders", clientHandler.AddReminder)
	clientRoutes.Put("/:id/reminders/:reminderId", clientHandler.UpdateReminder)
	clientRoutes.Delete("/:id/reminders/:reminderId", clientHandler.DeleteReminder)

	documentRoutes := api.Group("/documents", requireAuth)
	documentRoutes.Get("/", documentHandler.List)
	documentRoutes.Post("/", documentHandler.Upload)
	documentRoutes.Get("/:id", documentHandler.Get)
	documentRoutes.Get("/:id/download", documentHandler.Download)
	documentRoutes.Post("/:id/download-link", documentHandler.DownloadLink)
	documentRoutes.Put("/:id", documentHandler.Update)
	documentRoutes.Delete("/:id", documentHandler.Delete)

	importRoutes := api.Group("/import", requireAuth)
	importRoutes.Post("/products", importHandler.ImportProducts)
	importRoutes.Post("/clients", importHandler.ImportClients)
	importRoutes.Get("/logs", importHandler.ListLogs)
	importRoutes.Get("/logs/:id", importHandler.GetLog)

	api.Get("/audit-log/export", requireAuth, auditHandler.ExportMyLog)

	adminRoutes := api.Group("/admin", requireAuth, middleware.AdminOnly)
	adminRoutes.Get("/users", adminHandler.ListUsers)
	adminRoutes.Get("/users/:id", adminHandler.GetUser)
	adminRoutes.Put("/users/:id", adminHandler.UpdateUser)
	adminRoutes.Delete("/users/:id", adminHandler.DeleteUser)
	adminRoutes.Put("/products/:id/assign", adminHandler.AssignProduct())
	adminRoutes.Put("/clients/:id/assign", adminHandler.AssignClient())
	adminRoutes.Put("/documents/:id/assign", adminHandler.AssignDocument())
	adminRoutes.Get("/stats", adminHandler.Stats)
	adminRoutes.Get("/backup", adminHandler.Backup)
}
