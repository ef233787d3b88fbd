package utils

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type PaginationParams struct {
	Page   int
	Limit  int
	Offset int
}

func ParsePagination(c *fiber.Ctx) PaginationParams {
	page := parseIntDefault(c.Query("page"), 1)
	limit := parseIntDefault(c.Query("limit"), defaultPageLimit)

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	return PaginationParams{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
}

// ApplyPagination leaves the query unbounded for zero-value params.
func ApplyPagination(db *gorm.DB, p PaginationParams) *gorm.DB {
	if p.Limit <= 0 {
		return db
	}
	return db.Offset(p.Offset).Limit(p.Limit)
}

// ParseSort maps the "sort" and "order" query params onto an ORDER BY
// expression. Only keys present in allowed are honoured; allowed maps the
// public field name to its column.
func ParseSort(c *fiber.Ctx, allowed map[string]string, fallback string) string {
	column, ok := allowed[strings.TrimSpace(c.Query("sort"))]
	if !ok {
		return fallback
	}

	direction := "ASC"
	if strings.EqualFold(strings.TrimSpace(c.Query("order")), "desc") {
		direction = "DESC"
	}
	return column + " " + direction
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
