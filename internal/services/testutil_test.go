package services

import (
	"testing"

	"github.com/crmdesk/server/internal/database"
	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func createUser(t *testing.T, db *gorm.DB, email string, role models.UserRole) *models.User {
	t.Helper()

	user := &models.User{
		Email:        email,
		PasswordHash: "hash",
		FullName:     "Test " + email,
		Role:         role,
		Version:      1,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func price(v float64) *float64 {
	return &v
}

func widget() ProductInput {
	return ProductInput{
		NameEn:       "Widget",
		Code:         "W1",
		Price:        price(10),
		Discount:     50,
		DiscountType: models.DiscountPercent,
	}
}

func ids(rows ...uuid.UUID) []uuid.UUID {
	return rows
}

func pageOf(page, limit int) utils.PaginationParams {
	return utils.PaginationParams{Page: page, Limit: limit, Offset: (page - 1) * limit}
}
