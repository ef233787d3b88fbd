package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crmdesk/server/internal/config"
	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
			TranslateError: true,
		})
	case DriverSQLite, "":
		db, err = OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// OpenSQLite opens the embedded database. A single connection serialises
// writers so transactions never see SQLITE_BUSY.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Product{},
		&models.Client{},
		&models.ClientComment{},
		&models.ClientReminder{},
		&models.Document{},
		&models.PasswordResetToken{},
		&models.ImportLog{},
		&models.AuditLog{},
		&models.AuditExportCursor{},
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// SeedAdmin guarantees at least one admin exists. It creates the configured
// default admin, or promotes the user already holding that email, and does
// nothing when an admin is present. It reports whether anything changed.
func SeedAdmin(db *gorm.DB, cfg config.AdminConfig) (bool, error) {
	seeded := false

	err := db.Transaction(func(tx *gorm.DB) error {
		var admins int64
		if err := tx.Model(&models.User{}).Where("role = ?", models.UserRoleAdmin).Count(&admins).Error; err != nil {
			return err
		}
		if admins > 0 {
			return nil
		}

		email := models.NormalizeEmail(cfg.Email)

		var existing models.User
		err := tx.Where("email = ?", email).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Model(&existing).Updates(map[string]interface{}{
				"role":    models.UserRoleAdmin,
				"version": gorm.Expr("version + 1"),
			}).Error; err != nil {
				return err
			}
			logger.Warn("admin_promoted", map[string]interface{}{
				"email": email,
			})
		case errors.Is(err, gorm.ErrRecordNotFound):
			hash, err := utils.HashPassword(cfg.Password)
			if err != nil {
				return err
			}
			admin := models.User{
				Email:              email,
				PasswordHash:       hash,
				FullName:           "System Admin",
				Role:               models.UserRoleAdmin,
				MustChangePassword: true,
			}
			if err := tx.Create(&admin).Error; err != nil {
				return err
			}
			logger.Info("admin_seeded", map[string]interface{}{
				"email": email,
			})
		default:
			return err
		}

		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("seeding admin user: %w", err)
	}

	return seeded, nil
}
