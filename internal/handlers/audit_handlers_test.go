package handlers

import (
	"encoding/csv"
	"net/http"
	"strings"
	"testing"

	"github.com/crmdesk/server/internal/models"
)

func TestFormatDetails(t *testing.T) {
	got := formatDetails(map[string]interface{}{"b": 2, "a": "x"})
	if got != "a=x; b=2" {
		t.Fatalf("expected sorted details, got %q", got)
	}
	if formatDetails(nil) != "" {
		t.Fatal("expected empty details for nil map")
	}
}

func TestExportMyLog(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)

	createProduct(t, env, token, widgetPayload())
	createClient(t, env, token, "Acme")
	waitForAuditRows(t, env.db, user.ID, 2)

	resp := performRequest(t, env.app, http.MethodGet, "/api/audit-log/export", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected csv content type, got %q", ct)
	}
	records, err := csv.NewReader(strings.NewReader(readBody(t, resp))).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(records) != 3 || records[0][1] != "Action" {
		t.Fatalf("expected header plus 2 rows, got %+v", records)
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/audit-log/export?format=json", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	if got := len(dataList(t, decodeJSONMap(t, resp))); got != 2 {
		t.Fatalf("expected 2 json entries, got %d", got)
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/audit-log/export?format=xml", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)
}
