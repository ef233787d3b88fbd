package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/crmdesk/server/internal/database"
	"github.com/crmdesk/server/internal/middleware"
	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/internal/storage"
	"github.com/crmdesk/server/pkg/downloadlink"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type capturedReset struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *capturedReset) SendPasswordReset(_ context.Context, user *models.User, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[user.Email] = token
	return nil
}

func (n *capturedReset) tokenFor(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	resets *capturedReset
	audit  *services.AuditService
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.InitWithWriter(io.Discard)
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating models: %v", err)
	}

	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed creating local store: %v", err)
	}

	resets := &capturedReset{tokens: map[string]string{}}
	audit := services.NewAuditService(db, store, 100)
	t.Cleanup(audit.Close)
	users := services.NewUserService(db)
	products := services.NewProductService(db)
	clients := services.NewClientService(db, products)
	documents := services.NewDocumentService(db, clients, store)

	app := fiber.New(fiber.Config{BodyLimit: 20 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	SetupRoutes(app, Dependencies{
		DB:        db,
		Auth:      middleware.NewAuthMiddleware(db, users, time.Minute),
		Users:     users,
		Resets:    services.NewPasswordResetService(db, time.Hour, resets),
		Products:  products,
		Clients:   clients,
		Documents: documents,
		Imports:   services.NewImportService(db, products, clients, 100),
		Audit:     audit,
		Links:     downloadlink.NewSigner("test-secret", time.Minute),
	})

	return &testEnv{app: app, db: db, resets: resets, audit: audit}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     "Test User",
		Role:         role,
		Version:      1,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

// waitForAuditRows polls until the async audit writer has stored at least
// want rows for the user.
func waitForAuditRows(t *testing.T, db *gorm.DB, userID uuid.UUID, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var count int64
		db.Model(&models.AuditLog{}).Where("user_id = ?", userID).Count(&count)
		if count >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected at least %d audit rows, got %d", want, count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func withHeader(headers map[string]string, key, value string) map[string]string {
	merged := map[string]string{key: value}
	for k, v := range headers {
		merged[k] = v
	}
	return merged
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

// performUpload posts a multipart form with one "file" part plus fields.
func performUpload(t *testing.T, app *fiber.App, path, fileName string, content []byte, fields map[string]string, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed writing form field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("failed creating form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed writing form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	return performRequest(t, app, http.MethodPost, path, &buf, withHeader(headers, "Content-Type", writer.FormDataContentType()))
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}
	return string(raw)
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %+v", body)
	}
	return data
}

func dataList(t *testing.T, body map[string]any) []any {
	t.Helper()
	data, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected data array, got %+v", body)
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d body=%s", expected, resp.StatusCode, raw)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

func createProduct(t *testing.T, env *testEnv, token string, payload map[string]any) map[string]any {
	t.Helper()
	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/products", payload, authHeaders(token))
	assertStatus(t, resp, http.StatusCreated)
	return dataMap(t, decodeJSONMap(t, resp))
}

func createClient(t *testing.T, env *testEnv, token, name string) map[string]any {
	t.Helper()
	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/clients", map[string]any{"name": name}, authHeaders(token))
	assertStatus(t, resp, http.StatusCreated)
	return dataMap(t, decodeJSONMap(t, resp))
}
