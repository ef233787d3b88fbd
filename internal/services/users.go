package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrLastAdmin          = fmt.Errorf("%w: at least one admin must remain", ErrConflict)
)

const minPasswordLength = 8

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	FullName string `json:"fullName" validate:"required,max=200"`
}

type ProfileInput struct {
	FullName       *string `json:"fullName" validate:"omitempty,min=1,max=200"`
	Phone          *string `json:"phone" validate:"omitempty,max=50"`
	ProfilePicture *string `json:"profilePicture"`
	DarkMode       *bool   `json:"darkMode"`
}

type AdminUserUpdate struct {
	FullName           *string          `json:"fullName" validate:"omitempty,min=1,max=200"`
	Phone              *string          `json:"phone" validate:"omitempty,max=50"`
	Role               *models.UserRole `json:"role" validate:"omitempty,oneof=admin user"`
	MustChangePassword *bool            `json:"mustChangePassword"`
	Password           *string          `json:"password" validate:"omitempty,min=8,max=128"`
}

type UserService struct {
	DB   *gorm.DB
	rows *Collection[models.User]
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db, rows: NewCollection[models.User](db, "users")}
}

func (s *UserService) Rows() *Collection[models.User] {
	return s.rows
}

func (s *UserService) emailTaken(ctx context.Context, email string, except uuid.UUID) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("email = ? AND id <> ?", models.NormalizeEmail(email), except).
		Count(&count).Error
	if err != nil {
		return false, storageErr("check email", err)
	}
	return count > 0, nil
}

func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	input.Email = models.NormalizeEmail(input.Email)
	input.FullName = strings.TrimSpace(input.FullName)
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	taken, err := s.emailTaken(ctx, input.Email, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	hash, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, &StorageError{Op: "hash password", Err: err}
	}

	user := models.User{
		Email:        input.Email,
		PasswordHash: hash,
		FullName:     input.FullName,
		Role:         models.UserRoleUser,
		Version:      1,
	}
	if err := s.rows.Create(ctx, &user); err != nil {
		return nil, emailConflict(err)
	}

	logger.Info("user_registered", map[string]interface{}{
		"user_id": user.ID.String(),
		"email":   user.Email,
	})
	return &user, nil
}

// Authenticate checks the credentials and marks the user online.
func (s *UserService) Authenticate(ctx context.Context, email, password string, now time.Time) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalid("email", "email and password are required")
	}

	var user models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("login_failed_user_not_found", map[string]interface{}{"email": email})
			return nil, ErrInvalidCredentials
		}
		return nil, storageErr("load user", err)
	}
	if !utils.CheckPassword(password, user.PasswordHash) {
		logger.WarnWithUser(user.ID.String(), "login_failed_invalid_password", nil)
		return nil, ErrInvalidCredentials
	}

	now = now.UTC()
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).UpdateColumns(map[string]interface{}{
		"last_login":  now,
		"last_active": now,
		"is_online":   true,
	}).Error; err != nil {
		return nil, storageErr("record login", err)
	}
	user.LastLogin = &now
	user.LastActive = &now
	user.IsOnline = true

	return &user, nil
}

func (s *UserService) Logout(ctx context.Context, user *models.User) error {
	err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).
		UpdateColumn("is_online", false).Error
	return storageErr("record logout", err)
}

// TouchActivity updates only the activity columns so it can never clobber a
// concurrent profile edit.
func (s *UserService) TouchActivity(ctx context.Context, userID uuid.UUID, now time.Time) error {
	err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).UpdateColumns(map[string]interface{}{
		"last_active": now.UTC(),
		"is_online":   true,
	}).Error
	return storageErr("touch activity", err)
}

func (s *UserService) UpdateProfile(ctx context.Context, user *models.User, expectedVersion int64, input ProfileInput) (*models.User, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	values := map[string]interface{}{}
	if input.FullName != nil {
		values["full_name"] = strings.TrimSpace(*input.FullName)
	}
	if input.Phone != nil {
		values["phone"] = strings.TrimSpace(*input.Phone)
	}
	if input.ProfilePicture != nil {
		values["profile_picture"] = *input.ProfilePicture
	}
	if input.DarkMode != nil {
		values["dark_mode"] = *input.DarkMode
	}
	if len(values) == 0 {
		return nil, invalid("", "no valid fields to update")
	}

	if expectedVersion == 0 {
		expectedVersion = user.Version
	}
	return s.rows.Update(ctx, user.ID, expectedVersion, values)
}

func (s *UserService) ChangePassword(ctx context.Context, user *models.User, current, next string) (*models.User, error) {
	if !utils.CheckPassword(current, user.PasswordHash) {
		return nil, invalid("currentPassword", "current password is incorrect")
	}
	if len(next) < minPasswordLength {
		return nil, invalid("newPassword", fmt.Sprintf("newPassword must be at least %d characters", minPasswordLength))
	}

	hash, err := utils.HashPassword(next)
	if err != nil {
		return nil, &StorageError{Op: "hash password", Err: err}
	}
	return s.rows.Update(ctx, user.ID, user.Version, map[string]interface{}{
		"password_hash":        hash,
		"must_change_password": false,
	})
}

func (s *UserService) ChangeEmail(ctx context.Context, user *models.User, password, email string) (*models.User, error) {
	if !utils.CheckPassword(password, user.PasswordHash) {
		return nil, invalid("password", "password is incorrect")
	}
	email = models.NormalizeEmail(email)
	if err := validate.Var(email, "required,email,max=255"); err != nil {
		return nil, invalid("email", "email must be a valid email address")
	}

	taken, err := s.emailTaken(ctx, email, user.ID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	updated, err := s.rows.Update(ctx, user.ID, user.Version, map[string]interface{}{
		"email": email,
	})
	if err != nil {
		return nil, emailConflict(err)
	}
	return updated, nil
}

// emailConflict reports a unique index violation on email as ErrEmailTaken.
// The index settles races that slip past the emailTaken check.
func emailConflict(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrEmailTaken
	}
	return err
}

// DeleteSelf removes the caller's account after re-checking the password.
// Records the user owned stay behind as orphans.
func (s *UserService) DeleteSelf(ctx context.Context, user *models.User, password string) error {
	if !utils.CheckPassword(password, user.PasswordHash) {
		return invalid("password", "password is incorrect")
	}
	return s.deleteUser(ctx, user.ID)
}

func (s *UserService) deleteUser(ctx context.Context, id uuid.UUID) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.User
		if err := tx.Where("id = ?", id).First(&target).Error; err != nil {
			return err
		}
		if target.IsAdmin() {
			if err := ensureOtherAdmin(tx, id); err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", id).Error
	})
	if err != nil {
		return storageErr("delete user", err)
	}

	logger.Info("user_deleted", map[string]interface{}{
		"user_id": id.String(),
	})
	return nil
}

func ensureOtherAdmin(tx *gorm.DB, except uuid.UUID) error {
	var admins int64
	if err := tx.Model(&models.User{}).
		Where("role = ? AND id <> ?", models.UserRoleAdmin, except).
		Count(&admins).Error; err != nil {
		return err
	}
	if admins == 0 {
		return ErrLastAdmin
	}
	return nil
}

var UserSortFields = map[string]string{
	"email":      "email",
	"fullName":   "full_name",
	"createdAt":  "created_at",
	"lastActive": "last_active",
}

func (s *UserService) List(ctx context.Context, opts ListOptions) ([]models.User, int64, error) {
	query := s.DB.WithContext(ctx).Model(&models.User{})
	if search := strings.TrimSpace(opts.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(full_name) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, storageErr("count users", err)
	}

	sort := opts.Sort
	if sort == "" {
		sort = "created_at ASC"
	}

	users := []models.User{}
	if err := utils.ApplyPagination(query.Order(sort).Order("id ASC"), opts.Page).Find(&users).Error; err != nil {
		return nil, 0, storageErr("list users", err)
	}
	return users, total, nil
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.rows.Find(ctx, id)
}

func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&user).Error; err != nil {
		return nil, storageErr("find user", err)
	}
	return &user, nil
}

// AdminUpdate lets an admin edit another account. Demoting the last admin is
// refused.
func (s *UserService) AdminUpdate(ctx context.Context, admin *models.User, id uuid.UUID, expectedVersion int64, input AdminUserUpdate) (*models.User, error) {
	if !admin.IsAdmin() {
		return nil, ErrAccessDenied
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	target, err := s.rows.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	values := map[string]interface{}{}
	if input.FullName != nil {
		values["full_name"] = strings.TrimSpace(*input.FullName)
	}
	if input.Phone != nil {
		values["phone"] = strings.TrimSpace(*input.Phone)
	}
	if input.MustChangePassword != nil {
		values["must_change_password"] = *input.MustChangePassword
	}
	if input.Password != nil {
		hash, err := utils.HashPassword(*input.Password)
		if err != nil {
			return nil, &StorageError{Op: "hash password", Err: err}
		}
		values["password_hash"] = hash
		values["must_change_password"] = true
	}
	if input.Role != nil {
		if target.IsAdmin() && *input.Role != models.UserRoleAdmin {
			if err := ensureOtherAdmin(s.DB.WithContext(ctx), id); err != nil {
				return nil, err
			}
		}
		values["role"] = *input.Role
	}
	if len(values) == 0 {
		return nil, invalid("", "no valid fields to update")
	}

	if expectedVersion == 0 {
		expectedVersion = target.Version
	}
	updated, err := s.rows.Update(ctx, id, expectedVersion, values)
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(admin.ID.String(), "admin_user_updated", map[string]interface{}{
		"target_user_id": id.String(),
	})
	return updated, nil
}

func (s *UserService) AdminDelete(ctx context.Context, admin *models.User, id uuid.UUID) error {
	if !admin.IsAdmin() {
		return ErrAccessDenied
	}
	if admin.ID == id {
		return invalid("id", "use account deletion to remove your own account")
	}
	return s.deleteUser(ctx, id)
}
