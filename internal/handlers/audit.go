package handlers

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

const auditExportLimit = 10000

type AuditHandler struct {
	Audit *services.AuditService
}

func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{Audit: audit}
}

func formatDetails(details map[string]interface{}) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, "; ")
}

func (h *AuditHandler) ExportMyLog(c *fiber.Ctx) error {
	user := currentUser(c)
	format := strings.ToLower(strings.TrimSpace(c.Query("format", "csv")))
	if format != "csv" && format != "json" {
		return utils.Error(c, fiber.StatusBadRequest, "format must be csv or json")
	}

	logs, err := h.Audit.ListForUser(c.UserContext(), user.ID, auditExportLimit)
	if err != nil {
		return serviceError(c, err, "audit log")
	}

	if format == "json" {
		c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit-log.json"))
		return utils.Success(c, fiber.StatusOK, logs)
	}

	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit-log.csv"))
	return writeAuditCSV(c, logs)
}

func writeAuditCSV(c *fiber.Ctx, logs []models.AuditLog) error {
	writer := csv.NewWriter(c.Response().BodyWriter())
	if err := writer.Write([]string{"Timestamp", "Action", "Resource Type", "Resource ID", "IP Address", "Details"}); err != nil {
		return err
	}

	for _, log := range logs {
		resourceID := ""
		if log.ResourceID != nil {
			resourceID = log.ResourceID.String()
		}
		if err := writer.Write([]string{
			log.CreatedAt.UTC().Format(time.RFC3339),
			log.Action,
			log.ResourceType,
			resourceID,
			log.IPAddress,
			formatDetails(log.Details),
		}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
