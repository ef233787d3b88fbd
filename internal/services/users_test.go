package services

import (
	"context"
	"testing"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestUserService_RegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	users := NewUserService(db)

	user, err := users.Register(ctx, RegisterInput{Email: " Dana@Example.com ", Password: "secret123", FullName: "Dana"})
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", user.Email)
	assert.Equal(t, models.UserRoleUser, user.Role)

	_, err = users.Register(ctx, RegisterInput{Email: "DANA@example.com", Password: "secret123", FullName: "Other"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = users.Register(ctx, RegisterInput{Email: "short@example.com", Password: "123", FullName: "Short"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "password", validation.Field)

	_, err = users.Authenticate(ctx, "dana@example.com", "wrong-password", time.Now())
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = users.Authenticate(ctx, "nobody@example.com", "secret123", time.Now())
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	loggedIn, err := users.Authenticate(ctx, "DANA@example.com", "secret123", time.Now())
	require.NoError(t, err)
	assert.True(t, loggedIn.IsOnline)
	require.NotNil(t, loggedIn.LastLogin)

	require.NoError(t, users.Logout(ctx, loggedIn))
	stored, err := users.Get(ctx, loggedIn.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOnline)
}

func TestUserService_TouchActivityKeepsProfile(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	users := NewUserService(db)
	user := createUser(t, db, "touch@test.com", models.UserRoleUser)

	name := "Updated Name"
	_, err := users.UpdateProfile(ctx, user, 0, ProfileInput{FullName: &name})
	require.NoError(t, err)

	require.NoError(t, users.TouchActivity(ctx, user.ID, time.Now()))

	stored, err := users.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Updated Name", stored.FullName)
	assert.NotNil(t, stored.LastActive)
	assert.Equal(t, int64(2), stored.Version, "activity tracking must not bump the version")
}

func TestUserService_PasswordAndEmail(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	users := NewUserService(db)

	user, err := users.Register(ctx, RegisterInput{Email: "pw@test.com", Password: "original1", FullName: "Pw"})
	require.NoError(t, err)
	require.NoError(t, db.Model(user).Update("must_change_password", true).Error)
	user, err = users.Get(ctx, user.ID)
	require.NoError(t, err)

	_, err = users.ChangePassword(ctx, user, "nope", "newpassword")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "currentPassword", validation.Field)

	updated, err := users.ChangePassword(ctx, user, "original1", "newpassword")
	require.NoError(t, err)
	assert.False(t, updated.MustChangePassword)
	assert.True(t, utils.CheckPassword("newpassword", updated.PasswordHash))

	createUser(t, db, "taken@test.com", models.UserRoleUser)
	_, err = users.ChangeEmail(ctx, updated, "newpassword", "TAKEN@test.com")
	assert.ErrorIs(t, err, ErrEmailTaken)

	moved, err := users.ChangeEmail(ctx, updated, "newpassword", "Moved@Test.com")
	require.NoError(t, err)
	assert.Equal(t, "moved@test.com", moved.Email)
}

func TestUserService_LastAdminProtection(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	users := NewUserService(db)

	hash, err := utils.HashPassword("admin1234")
	require.NoError(t, err)
	admin := &models.User{Email: "admin@test.com", PasswordHash: hash, Role: models.UserRoleAdmin, Version: 1}
	require.NoError(t, db.Create(admin).Error)
	member := createUser(t, db, "member@test.com", models.UserRoleUser)

	assert.ErrorIs(t, users.DeleteSelf(ctx, admin, "admin1234"), ErrLastAdmin)

	roleUser := models.UserRoleUser
	_, err = users.AdminUpdate(ctx, admin, admin.ID, 0, AdminUserUpdate{Role: &roleUser})
	assert.ErrorIs(t, err, ErrLastAdmin)

	_, err = users.AdminUpdate(ctx, member, admin.ID, 0, AdminUserUpdate{Role: &roleUser})
	assert.ErrorIs(t, err, ErrAccessDenied)

	roleAdmin := models.UserRoleAdmin
	promoted, err := users.AdminUpdate(ctx, admin, member.ID, 0, AdminUserUpdate{Role: &roleAdmin})
	require.NoError(t, err)
	assert.True(t, promoted.IsAdmin())

	require.NoError(t, users.DeleteSelf(ctx, admin, "admin1234"))
	_, err = users.Get(ctx, admin.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserService_DeleteLeavesOrphans(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	users := NewUserService(db)
	products := NewProductService(db)

	admin := createUser(t, db, "admin@test.com", models.UserRoleAdmin)
	member := createUser(t, db, "member@test.com", models.UserRoleUser)

	created, err := products.Create(ctx, member, widget())
	require.NoError(t, err)

	require.NoError(t, users.AdminDelete(ctx, admin, member.ID))

	stored, err := products.Get(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, member.ID, *stored.UserID, "ownership is kept, nothing cascades")

	var validation *ValidationError
	assert.ErrorAs(t, users.AdminDelete(ctx, admin, admin.ID), &validation)
}

// claimEmailFirst inserts a user holding email right before the next write
// to the users table, after the service has already checked the address.
func claimEmailFirst(t *testing.T, db *gorm.DB, email string) *bool {
	t.Helper()

	fired := false
	claim := func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "users" {
			return
		}
		fired = true
		tx.Session(&gorm.Session{NewDB: true}).Create(&models.User{
			Email:        email,
			PasswordHash: "hash",
			FullName:     "Racer",
			Role:         models.UserRoleUser,
			Version:      1,
		})
	}
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:claim_email", claim))
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:claim_email", claim))
	t.Cleanup(func() {
		_ = db.Callback().Create().Remove("test:claim_email")
		_ = db.Callback().Update().Remove("test:claim_email")
	})
	return &fired
}

func TestUserService_ConcurrentRegisterIsEmailTaken(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	users := NewUserService(db)

	fired := claimEmailFirst(t, db, "race@example.com")

	_, err := users.Register(ctx, RegisterInput{Email: "race@example.com", Password: "secret123", FullName: "Late"})
	require.True(t, *fired)
	assert.ErrorIs(t, err, ErrEmailTaken)

	var late int64
	require.NoError(t, db.Model(&models.User{}).Where("full_name = ?", "Late").Count(&late).Error)
	assert.Zero(t, late)
}

func TestUserService_ConcurrentChangeEmailIsEmailTaken(t *testing.T) {
	ctx := context.Background()
	db := setupServiceDB(t)
	users := NewUserService(db)

	user, err := users.Register(ctx, RegisterInput{Email: "first@example.com", Password: "secret123", FullName: "First"})
	require.NoError(t, err)

	fired := claimEmailFirst(t, db, "wanted@example.com")

	_, err = users.ChangeEmail(ctx, user, "secret123", "wanted@example.com")
	require.True(t, *fired)
	assert.ErrorIs(t, err, ErrEmailTaken)

	stored, err := users.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", stored.Email)
}
