package database

import (
	"path/filepath"
	"testing"

	"github.com/crmdesk/server/internal/config"
	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

var adminCfg = config.AdminConfig{Email: "Admin@CRMdesk.local", Password: "admin123"}

func countAdmins(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("role = ?", models.UserRoleAdmin).Count(&count).Error)
	return count
}

func TestSeedAdmin(t *testing.T) {
	t.Run("creates default admin once", func(t *testing.T) {
		db := openTestDB(t)

		seeded, err := SeedAdmin(db, adminCfg)
		require.NoError(t, err)
		assert.True(t, seeded)

		seeded, err = SeedAdmin(db, adminCfg)
		require.NoError(t, err)
		assert.False(t, seeded)

		assert.Equal(t, int64(1), countAdmins(t, db))

		var admin models.User
		require.NoError(t, db.Where("email = ?", "admin@crmdesk.local").First(&admin).Error)
		assert.True(t, admin.MustChangePassword)
		assert.True(t, utils.CheckPassword("admin123", admin.PasswordHash))
	})

	t.Run("no-op when another admin exists", func(t *testing.T) {
		db := openTestDB(t)
		require.NoError(t, db.Create(&models.User{Email: "boss@example.com", PasswordHash: "x", Role: models.UserRoleAdmin}).Error)

		seeded, err := SeedAdmin(db, adminCfg)
		require.NoError(t, err)
		assert.False(t, seeded)
		assert.Equal(t, int64(1), countAdmins(t, db))
	})

	t.Run("promotes existing user holding the admin email", func(t *testing.T) {
		db := openTestDB(t)
		require.NoError(t, db.Create(&models.User{Email: "admin@crmdesk.local", PasswordHash: "x", Role: models.UserRoleUser}).Error)

		seeded, err := SeedAdmin(db, adminCfg)
		require.NoError(t, err)
		assert.True(t, seeded)

		var users int64
		require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
		assert.Equal(t, int64(1), users)
		assert.Equal(t, int64(1), countAdmins(t, db))
	})
}

func TestConnect(t *testing.T) {
	t.Run("sqlite file is created and migrated", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "crm.db")
		db, err := Connect(config.DBConfig{Driver: DriverSQLite, Path: path})
		require.NoError(t, err)

		sqlDB, err := db.DB()
		require.NoError(t, err)
		t.Cleanup(func() { _ = sqlDB.Close() })

		for _, table := range []string{"users", "products", "clients", "documents", "import_logs"} {
			assert.True(t, db.Migrator().HasTable(table), "expected table %s", table)
		}
	})

	t.Run("unknown driver is rejected", func(t *testing.T) {
		_, err := Connect(config.DBConfig{Driver: "oracle"})
		assert.Error(t, err)
	})
}

func TestDuplicateEmailIsTranslated(t *testing.T) {
	db := openTestDB(t)

	first := &models.User{Email: "dup@crmdesk.local", PasswordHash: "hash", FullName: "One", Role: models.UserRoleUser, Version: 1}
	require.NoError(t, db.Create(first).Error)

	second := &models.User{Email: "dup@crmdesk.local", PasswordHash: "hash", FullName: "Two", Role: models.UserRoleUser, Version: 1}
	assert.ErrorIs(t, db.Create(second).Error, gorm.ErrDuplicatedKey)
}
