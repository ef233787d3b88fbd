package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crmdesk/server/internal/config"
	"github.com/crmdesk/server/internal/database"
	"github.com/crmdesk/server/internal/datastore"
	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

type testApp struct {
	app *App
	db  *gorm.DB
	out *bytes.Buffer
}

func setupApp(t *testing.T) *testApp {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	out := &bytes.Buffer{}
	app := &App{
		Config: &config.Config{
			Admin:   config.AdminConfig{Email: "Root@Example.com", Password: "changeme123"},
			Storage: config.StorageConfig{Driver: "local", LocalDir: t.TempDir()},
		},
		DB:  db,
		Out: out,
		Now: func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
	return &testApp{app: app, db: db, out: out}
}

func (ta *testApp) run(t *testing.T, args ...string) error {
	t.Helper()
	ta.out.Reset()
	root := NewRootCommand(ta.app)
	root.SetArgs(args)
	root.SetErr(io.Discard)
	return root.Execute()
}

func (ta *testApp) createUser(t *testing.T, email string, role models.UserRole) *models.User {
	t.Helper()
	u := &models.User{Email: email, PasswordHash: "hash", FullName: "User " + email, Role: role, Version: 1}
	require.NoError(t, ta.db.Create(u).Error)
	return u
}

func TestVersion(t *testing.T) {
	ta := setupApp(t)

	require.NoError(t, ta.run(t, "version"))
	assert.Equal(t, "crmctl dev\n", ta.out.String())

	require.NoError(t, ta.run(t, "version", "--json"))
	var got map[string]string
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &got))
	assert.Equal(t, "dev", got["version"])
}

func TestSeedAdmin(t *testing.T) {
	ta := setupApp(t)

	require.NoError(t, ta.run(t, "seed-admin"))
	assert.Contains(t, ta.out.String(), "root@example.com is ready")

	var admin models.User
	require.NoError(t, ta.db.Where("email = ?", "root@example.com").First(&admin).Error)
	assert.Equal(t, models.UserRoleAdmin, admin.Role)

	require.NoError(t, ta.run(t, "seed-admin"))
	assert.Contains(t, ta.out.String(), "nothing to do")
}

func TestUsersLs(t *testing.T) {
	ta := setupApp(t)
	ta.createUser(t, "alice@example.com", models.UserRoleAdmin)
	ta.createUser(t, "bob@example.com", models.UserRoleUser)

	require.NoError(t, ta.run(t, "users", "ls"))
	assert.Contains(t, ta.out.String(), "alice@example.com")
	assert.Contains(t, ta.out.String(), "bob@example.com")

	require.NoError(t, ta.run(t, "users", "ls", "--search", "bob", "--json"))
	var got struct {
		Users []models.User `json:"users"`
		Total int64         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &got))
	assert.Equal(t, int64(1), got.Total)
	require.Len(t, got.Users, 1)
	assert.Equal(t, "bob@example.com", got.Users[0].Email)
}

func TestAssignOrphans(t *testing.T) {
	ta := setupApp(t)
	ta.createUser(t, "admin@example.com", models.UserRoleAdmin)
	owner := ta.createUser(t, "sales@example.com", models.UserRoleUser)

	require.NoError(t, ta.db.Create(&models.Product{NameEn: "Loose", Code: "L1"}).Error)
	require.NoError(t, ta.db.Create(&models.Product{NameEn: "Kept", Code: "K1", OwnedModel: models.OwnedModel{UserID: &owner.ID}}).Error)
	require.NoError(t, ta.db.Create(&models.Client{Name: "Stray"}).Error)

	require.NoError(t, ta.run(t, "assign-orphans", "--to", "Sales@Example.com", "--type", "products", "--json"))
	var got map[string]int64
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &got))
	assert.Equal(t, int64(1), got["products"])
	_, hasClients := got["clients"]
	assert.False(t, hasClients)

	var orphans int64
	require.NoError(t, ta.db.Model(&models.Product{}).Where("user_id IS NULL").Count(&orphans).Error)
	assert.Zero(t, orphans)

	require.NoError(t, ta.run(t, "assign-orphans", "--to", "sales@example.com"))
	assert.Contains(t, ta.out.String(), "Assigned 1 clients to sales@example.com")
	assert.Contains(t, ta.out.String(), "Assigned 0 products")
}

func TestAssignOrphans_Errors(t *testing.T) {
	ta := setupApp(t)
	ta.createUser(t, "sales@example.com", models.UserRoleUser)

	err := ta.run(t, "assign-orphans", "--to", "sales@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed-admin")

	ta.createUser(t, "admin@example.com", models.UserRoleAdmin)
	err = ta.run(t, "assign-orphans", "--to", "sales@example.com", "--type", "invoices")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")

	err = ta.run(t, "assign-orphans", "--to", "nobody@example.com")
	require.Error(t, err)
}

func TestLegacyImportExport(t *testing.T) {
	ta := setupApp(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "data.json")

	require.NoError(t, datastore.Write(src, &datastore.Document{
		Users: []datastore.User{
			{ID: "1", Email: "owner@example.com", Password: "plaintext1", FullName: "Owner"},
		},
		Products: []datastore.Product{
			{ID: "10", UserID: "1", NameEn: "Widget", Code: "W1", Price: 10},
			{ID: "11", NameEn: "Orphan", Code: "O1", Price: 5},
		},
	}))

	require.NoError(t, ta.run(t, "legacy", "import", src, "--json"))
	var summary datastore.LoadSummary
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &summary))
	assert.Equal(t, 1, summary.Users)
	assert.Equal(t, 2, summary.Products)
	assert.Equal(t, 1, summary.Orphans)
	assert.Equal(t, 1, summary.HashedPasswords)

	dst := filepath.Join(dir, "out", "export.json")
	require.NoError(t, ta.run(t, "legacy", "export", dst))
	assert.Contains(t, ta.out.String(), "1 users, 2 products")

	res := datastore.Read(dst)
	require.True(t, res.OK())
	assert.Len(t, res.Document.Products, 2)
}

func TestLegacyImport_BadFile(t *testing.T) {
	ta := setupApp(t)
	dir := t.TempDir()

	err := ta.run(t, "legacy", "import", filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(datastore.StatusMissing))

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o644))
	err = ta.run(t, "legacy", "import", corrupt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(datastore.StatusCorrupt))

	err = ta.run(t, "legacy", "import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEGACY_DATA_FILE")
}

func TestStats(t *testing.T) {
	ta := setupApp(t)
	owner := ta.createUser(t, "owner@example.com", models.UserRoleUser)
	require.NoError(t, ta.db.Create(&models.Product{NameEn: "Loose", Code: "L1"}).Error)
	require.NoError(t, ta.db.Create(&models.Client{Name: "Acme", OwnedModel: models.OwnedModel{UserID: &owner.ID}}).Error)
	require.NoError(t, ta.db.Create(&models.Document{
		OwnedModel:   models.OwnedModel{UserID: &owner.ID},
		OriginalName: "a.pdf",
		FileName:     "a.pdf",
		MimeType:     "application/pdf",
		Size:         2048,
		UploadedAt:   time.Now(),
	}).Error)

	require.NoError(t, ta.run(t, "stats", "--json"))
	var got map[string]int64
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &got))
	assert.Equal(t, int64(1), got["users"])
	assert.Equal(t, int64(1), got["products"])
	assert.Equal(t, int64(2048), got["documentBytes"])
	assert.Equal(t, int64(1), got["orphans"])

	require.NoError(t, ta.run(t, "stats"))
	assert.Contains(t, ta.out.String(), "2.0 KB")
}

func TestAuditExport(t *testing.T) {
	ta := setupApp(t)
	user := ta.createUser(t, "owner@example.com", models.UserRoleUser)
	require.NoError(t, ta.db.Create(&models.AuditLog{UserID: &user.ID, Action: "login", ResourceType: "user"}).Error)

	require.NoError(t, ta.run(t, "audit", "export", "--json"))
	var got map[string]int
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &got))
	assert.Equal(t, 1, got["exported"])

	require.NoError(t, ta.run(t, "audit", "export"))
	assert.Equal(t, "Exported 0 audit entries\n", ta.out.String())
}
