package services

import (
	"context"
	"testing"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientService_CRUD(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	products := NewProductService(db)
	clients := NewClientService(db, products)
	alice := createUser(t, db, "alice@test.com", models.UserRoleUser)
	bob := createUser(t, db, "bob@test.com", models.UserRoleUser)

	product, err := products.Create(ctx, alice, widget())
	require.NoError(t, err)
	foreign, err := products.Create(ctx, bob, widget())
	require.NoError(t, err)

	_, err = clients.Create(ctx, alice, ClientInput{Name: "  "})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "name", validation.Field)

	_, err = clients.Create(ctx, alice, ClientInput{Name: "Acme", Email: "not-an-email"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "email", validation.Field)

	_, err = clients.Create(ctx, alice, ClientInput{Name: "Acme", ProductIDs: ids(foreign.ID)})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "productIds", validation.Field)

	client, err := clients.Create(ctx, alice, ClientInput{Name: " Acme ", Email: "ops@acme.io", ProductIDs: ids(product.ID)})
	require.NoError(t, err)
	assert.Equal(t, "Acme", client.Name)
	assert.Equal(t, int64(1), client.Version)

	loaded, err := clients.Get(ctx, alice, client.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{product.ID}, []uuid.UUID(loaded.ProductIDs))

	_, err = clients.Get(ctx, bob, client.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	updated, err := clients.Update(ctx, alice, client.ID, 1, ClientInput{Name: "Acme Ltd"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", updated.Name)
	assert.Empty(t, updated.ProductIDs)
	assert.Equal(t, int64(2), updated.Version)

	_, err = clients.Update(ctx, alice, client.ID, 1, ClientInput{Name: "Stale"})
	assert.ErrorIs(t, err, ErrConflict)

	list, total, err := clients.List(ctx, bob, ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)

	list, total, err = clients.List(ctx, alice, ListOptions{Search: "ltd"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
}

func TestClientService_CommentsAndReminders(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	clients := NewClientService(db, NewProductService(db))
	alice := createUser(t, db, "alice@test.com", models.UserRoleUser)
	bob := createUser(t, db, "bob@test.com", models.UserRoleUser)

	client, err := clients.Create(ctx, alice, ClientInput{Name: "Acme"})
	require.NoError(t, err)

	comment, err := clients.AddComment(ctx, alice, client.ID, CommentInput{Text: " called back "})
	require.NoError(t, err)
	assert.Equal(t, "called back", comment.Text)

	_, err = clients.AddComment(ctx, bob, client.ID, CommentInput{Text: "hi"})
	assert.ErrorIs(t, err, ErrAccessDenied)

	due := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	reminder, err := clients.AddReminder(ctx, alice, client.ID, ReminderInput{Date: due, Note: "follow up"})
	require.NoError(t, err)
	assert.False(t, reminder.Done)

	done, err := clients.UpdateReminder(ctx, alice, client.ID, reminder.ID, ReminderInput{Date: due, Note: "follow up", Done: true})
	require.NoError(t, err)
	assert.True(t, done.Done)

	_, err = clients.UpdateReminder(ctx, alice, client.ID, uuid.New(), ReminderInput{Date: due})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = clients.AddReminder(ctx, alice, client.ID, ReminderInput{Note: "no date"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "date", validation.Field)

	loaded, err := clients.Get(ctx, alice, client.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Comments, 1)
	assert.Len(t, loaded.Reminders, 1)

	require.NoError(t, clients.DeleteComment(ctx, alice, client.ID, comment.ID))
	assert.ErrorIs(t, clients.DeleteComment(ctx, alice, client.ID, comment.ID), ErrNotFound)
	require.NoError(t, clients.DeleteReminder(ctx, alice, client.ID, reminder.ID))

	loaded, err = clients.Get(ctx, alice, client.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Comments)
	assert.Empty(t, loaded.Reminders)
}

func TestClientService_MarkContacted(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	clients := NewClientService(db, NewProductService(db))
	alice := createUser(t, db, "alice@test.com", models.UserRoleUser)

	client, err := clients.Create(ctx, alice, ClientInput{Name: "Acme"})
	require.NoError(t, err)

	now := time.Date(2026, 4, 2, 15, 30, 0, 0, time.UTC)
	contacted, err := clients.MarkContacted(ctx, alice, client.ID, now)
	require.NoError(t, err)
	require.NotNil(t, contacted.LastContacted)
	assert.True(t, now.Equal(*contacted.LastContacted))
	assert.Equal(t, int64(2), contacted.Version)
}

func TestClientService_BulkDelete(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	clients := NewClientService(db, NewProductService(db))
	alice := createUser(t, db, "alice@test.com", models.UserRoleUser)
	bob := createUser(t, db, "bob@test.com", models.UserRoleUser)

	mine, err := clients.Create(ctx, alice, ClientInput{Name: "Mine"})
	require.NoError(t, err)
	theirs, err := clients.Create(ctx, bob, ClientInput{Name: "Theirs"})
	require.NoError(t, err)
	_, err = clients.AddComment(ctx, alice, mine.ID, CommentInput{Text: "note"})
	require.NoError(t, err)

	missing := uuid.New()
	result, err := clients.BulkDelete(ctx, alice, ids(mine.ID, theirs.ID, missing))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{mine.ID}, result.Deleted)
	assert.Equal(t, []uuid.UUID{theirs.ID}, result.Denied)
	assert.Equal(t, []uuid.UUID{missing}, result.NotFound)

	var comments int64
	require.NoError(t, db.Model(&models.ClientComment{}).Where("client_id = ?", mine.ID).Count(&comments).Error)
	assert.Zero(t, comments)
}

func TestClientService_ProductLinksSurviveProductChanges(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	products := NewProductService(db)
	clients := NewClientService(db, products)
	alice := createUser(t, db, "alice@test.com", models.UserRoleUser)
	bob := createUser(t, db, "bob@test.com", models.UserRoleUser)
	admin := createUser(t, db, "admin@test.com", models.UserRoleAdmin)

	deleted, err := products.Create(ctx, alice, widget())
	require.NoError(t, err)
	moved, err := products.Create(ctx, alice, widget())
	require.NoError(t, err)

	client, err := clients.Create(ctx, alice, ClientInput{Name: "Acme", ProductIDs: ids(deleted.ID, moved.ID)})
	require.NoError(t, err)
	form := ClientInput{Name: "Acme Ltd", ProductIDs: []uuid.UUID(client.ProductIDs)}

	_, err = products.Delete(ctx, alice, deleted.ID)
	require.NoError(t, err)
	_, err = products.Guard.Assign(ctx, admin, moved.ID, bob.ID)
	require.NoError(t, err)

	loaded, err := clients.Get(ctx, alice, client.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{moved.ID}, []uuid.UUID(loaded.ProductIDs), "deleted products are unlinked")

	updated, err := clients.Update(ctx, alice, client.ID, 0, form)
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", updated.Name)
	assert.Equal(t, []uuid.UUID{moved.ID}, []uuid.UUID(updated.ProductIDs))

	other, err := products.Create(ctx, bob, widget())
	require.NoError(t, err)
	_, err = clients.Update(ctx, alice, client.ID, 0, ClientInput{Name: "Acme Ltd", ProductIDs: ids(moved.ID, other.ID)})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "productIds", validation.Field)
}
