package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/crmdesk/server/internal/datastore"
	"github.com/crmdesk/server/internal/models"
	"github.com/google/uuid"
)

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "user@example.com", "password123", models.UserRoleUser)

	for _, path := range []string{"/api/admin/users", "/api/admin/stats", "/api/admin/backup"} {
		resp := performRequest(t, env.app, http.MethodGet, path, nil, authHeaders(token))
		assertStatus(t, resp, http.StatusForbidden)
	}

	resp := performRequest(t, env.app, http.MethodGet, "/api/admin/users", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestOrphansAndAssignment(t *testing.T) {
	env := setupTestEnv(t)
	owner, ownerToken := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)
	_, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)

	product := createProduct(t, env, ownerToken, widgetPayload())
	client := createClient(t, env, ownerToken, "Acme")
	env.db.Model(&models.Product{}).Where("id = ?", product["id"]).Update("user_id", nil)
	env.db.Model(&models.Client{}).Where("id = ?", client["id"]).Update("user_id", nil)

	resp := performRequest(t, env.app, http.MethodGet, "/api/products", nil, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusOK)
	if got := len(dataList(t, decodeJSONMap(t, resp))); got != 0 {
		t.Fatalf("expected orphan to be hidden from its former owner, got %d", got)
	}
	resp = performRequest(t, env.app, http.MethodGet, "/api/products/"+product["id"].(string), nil, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusForbidden)

	resp = performRequest(t, env.app, http.MethodGet, "/api/admin/stats", nil, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusOK)
	stats := dataMap(t, decodeJSONMap(t, resp))
	if stats["products"].(map[string]any)["orphans"] != float64(1) || stats["clients"].(map[string]any)["orphans"] != float64(1) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats["users"] != float64(2) || stats["admins"] != float64(1) {
		t.Fatalf("unexpected user counts: %+v", stats)
	}

	assignPath := "/api/admin/products/" + product["id"].(string) + "/assign"
	resp = performJSONRequest(t, env.app, http.MethodPut, assignPath, map[string]any{"userId": uuid.NewString()}, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/admin/products/"+uuid.NewString()+"/assign", map[string]any{"userId": owner.ID.String()}, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusNotFound)

	resp = performJSONRequest(t, env.app, http.MethodPut, assignPath, map[string]any{"userId": owner.ID.String()}, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusOK)
	if got := dataMap(t, decodeJSONMap(t, resp))["userId"]; got != owner.ID.String() {
		t.Fatalf("expected product assigned to owner, got %v", got)
	}

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/admin/clients/"+client["id"].(string)+"/assign", map[string]any{"userId": owner.ID.String()}, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusOK)

	resp = performRequest(t, env.app, http.MethodGet, "/api/products", nil, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusOK)
	if got := len(dataList(t, decodeJSONMap(t, resp))); got != 1 {
		t.Fatalf("expected reassigned product to be visible, got %d", got)
	}
}

func TestAdminUserManagement(t *testing.T) {
	env := setupTestEnv(t)
	admin, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)
	user, _ := createTestUser(t, env.db, "user@example.com", "password123", models.UserRoleUser)

	resp := performRequest(t, env.app, http.MethodGet, "/api/admin/users?search=user@", nil, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusOK)
	if got := len(dataList(t, decodeJSONMap(t, resp))); got != 1 {
		t.Fatalf("expected 1 user matching search, got %d", got)
	}

	userPath := "/api/admin/users/" + user.ID.String()
	resp = performJSONRequest(t, env.app, http.MethodPut, userPath, map[string]any{"role": "admin"}, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusOK)
	if role := dataMap(t, decodeJSONMap(t, resp))["role"]; role != "admin" {
		t.Fatalf("expected promotion, got %v", role)
	}

	resp = performJSONRequest(t, env.app, http.MethodPut, userPath, map[string]any{"fullName": "Stale"}, withHeader(authHeaders(adminToken), "If-Match", `"1"`))
	assertStatus(t, resp, http.StatusConflict)

	resp = performRequest(t, env.app, http.MethodDelete, "/api/admin/users/"+admin.ID.String(), nil, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performRequest(t, env.app, http.MethodDelete, userPath, nil, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusOK)

	resp = performRequest(t, env.app, http.MethodGet, userPath, nil, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusNotFound)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "user not found")
}

func TestAdminBackup(t *testing.T) {
	env := setupTestEnv(t)
	_, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)
	createProduct(t, env, adminToken, widgetPayload())
	createClient(t, env, adminToken, "Acme")

	resp := performRequest(t, env.app, http.MethodGet, "/api/admin/backup", nil, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusOK)
	if disposition := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(disposition, "attachment") {
		t.Fatalf("expected attachment disposition, got %q", disposition)
	}

	var doc datastore.Document
	if err := json.Unmarshal([]byte(readBody(t, resp)), &doc); err != nil {
		t.Fatalf("backup is not a legacy document: %v", err)
	}
	if len(doc.Users) != 1 || len(doc.Products) != 1 || len(doc.Clients) != 1 {
		t.Fatalf("unexpected backup contents: users=%d products=%d clients=%d", len(doc.Users), len(doc.Products), len(doc.Clients))
	}
}
