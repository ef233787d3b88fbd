package services

import (
	"context"
	"testing"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_LogAndExport(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	user := createUser(t, db, "audit@test.com", models.UserRoleUser)

	audit := NewAuditService(db, store, 10)
	audit.LogAsync(AuditEntry{UserID: &user.ID, Action: "client.create", ResourceType: "client"})
	audit.LogAsync(AuditEntry{UserID: &user.ID, Action: "client.delete", ResourceType: "client"})
	audit.Close()

	logs, err := audit.ListForUser(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	exported, err := audit.Export(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, exported)

	body, err := store.Download(ctx, "audit-logs/2026/06/01/10-00-00.ndjson")
	require.NoError(t, err)
	_ = body.Close()

	again, err := audit.Export(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, again, "cursor moved past exported rows")
}
