package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crmdesk/server/internal/config"
	"github.com/crmdesk/server/internal/database"
	"github.com/crmdesk/server/internal/handlers"
	"github.com/crmdesk/server/internal/middleware"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/internal/storage"
	"github.com/crmdesk/server/pkg/downloadlink"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const downloadLinkTTL = 5 * time.Minute

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration failed: %v", err)
	}
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	if _, err := database.SeedAdmin(db, cfg.Admin); err != nil {
		log.Fatalf("admin bootstrap failed: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("storage initialization failed: %v", err)
	}

	users := services.NewUserService(db)
	products := services.NewProductService(db)
	clients := services.NewClientService(db, products)
	documents := services.NewDocumentService(db, clients, store)
	imports := services.NewImportService(db, products, clients, cfg.Import.MaxRows)
	resets := services.NewPasswordResetService(db, cfg.PasswordReset.TTL, services.LogNotifier{FrontendURL: cfg.Server.FrontendURL})
	audit := services.NewAuditService(db, store, cfg.Audit.QueueSize)
	audit.StartExporter(ctx, cfg.Audit.ExportInterval)

	links := downloadlink.NewSigner(cfg.JWT.Secret, downloadLinkTTL)
	links.StartSweeper(downloadLinkTTL, ctx.Done())

	app := fiber.New(fiber.Config{BodyLimit: cfg.Server.BodyLimitMB * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())
	app.Use(middleware.Metrics())

	handlers.SetupRoutes(app, handlers.Dependencies{
		DB:        db,
		Auth:      middleware.NewAuthMiddleware(db, users, cfg.Activity.TouchInterval),
		Users:     users,
		Resets:    resets,
		Products:  products,
		Clients:   clients,
		Documents: documents,
		Imports:   imports,
		Audit:     audit,
		Links:     links,
	})

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":           cfg.Server.Port,
		"address":        listenAddr,
		"version":        handlers.Version,
		"db_driver":      cfg.DB.Driver,
		"storage_driver": cfg.Storage.Driver,
		"body_limit_mb":  cfg.Server.BodyLimitMB,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	stop()
	audit.Close()
}
