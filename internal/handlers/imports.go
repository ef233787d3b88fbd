package handlers

import (
	"errors"

	"github.com/crmdesk/server/internal/importer"
	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type ImportHandler struct {
	Imports *services.ImportService
	Audit   *services.AuditService
}

func NewImportHandler(imports *services.ImportService, audit *services.AuditService) *ImportHandler {
	return &ImportHandler{Imports: imports, Audit: audit}
}

// importStatusCode answers 201 when at least one row was stored. A run in
// which every row failed still wrote its log, so it is a 200.
func importStatusCode(log *models.ImportLog) int {
	if log.SuccessfulCount > 0 {
		return fiber.StatusCreated
	}
	return fiber.StatusOK
}

func uploadError(message string) error {
	return &services.ValidationError{Field: "file", Message: message}
}

// readUpload parses the multipart "file" field. Parse failures come back as
// validation errors on "file".
func readUpload(c *fiber.Ctx, schema importer.Schema) ([]importer.Record, services.ImportSource, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, services.ImportSource{}, uploadError("file is required")
	}
	src := services.ImportSource{
		FileName: fileHeader.Filename,
		FileSize: fileHeader.Size,
		FileType: importer.Format(fileHeader.Filename),
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, src, err
	}
	defer file.Close()

	records, err := importer.Read(fileHeader.Filename, file, schema)
	if err != nil {
		var headerErr *importer.HeaderError
		switch {
		case errors.As(err, &headerErr), errors.Is(err, importer.ErrUnsupportedFormat):
			return nil, src, uploadError(err.Error())
		default:
			return nil, src, uploadError("file could not be parsed: " + err.Error())
		}
	}
	return records, src, nil
}

func (h *ImportHandler) ImportProducts(c *fiber.Ctx) error {
	user := currentUser(c)
	assigned, err := assignedFromForm(c)
	if err != nil {
		return utils.FieldError(c, fiber.StatusBadRequest, "assignedUserId", "invalid user ID")
	}
	records, src, err := readUpload(c, importer.ProductSchema)
	if err != nil {
		return serviceError(c, err, "file")
	}

	log, err := h.Imports.ImportProducts(c.UserContext(), user, services.ProductRowsFromRecords(records), assigned, src)
	if err != nil {
		return serviceError(c, err, "import")
	}
	recordAudit(h.Audit, c, user, "products_imported", "import", &log.ID, map[string]interface{}{
		"file":       src.FileName,
		"status":     string(log.Status),
		"successful": log.SuccessfulCount,
		"failed":     log.FailedCount,
	})
	return utils.Success(c, importStatusCode(log), log)
}

func (h *ImportHandler) ImportClients(c *fiber.Ctx) error {
	user := currentUser(c)
	assigned, err := assignedFromForm(c)
	if err != nil {
		return utils.FieldError(c, fiber.StatusBadRequest, "assignedUserId", "invalid user ID")
	}
	records, src, err := readUpload(c, importer.ClientSchema)
	if err != nil {
		return serviceError(c, err, "file")
	}

	log, err := h.Imports.ImportClients(c.UserContext(), user, services.ClientRowsFromRecords(records), assigned, src)
	if err != nil {
		return serviceError(c, err, "import")
	}
	recordAudit(h.Audit, c, user, "clients_imported", "import", &log.ID, map[string]interface{}{
		"file":       src.FileName,
		"status":     string(log.Status),
		"successful": log.SuccessfulCount,
		"failed":     log.FailedCount,
	})
	return utils.Success(c, importStatusCode(log), log)
}

func (h *ImportHandler) ListLogs(c *fiber.Ctx) error {
	page := utils.ParsePagination(c)
	logs, total, err := h.Imports.ListLogs(c.UserContext(), currentUser(c), page)
	if err != nil {
		return serviceError(c, err, "import log")
	}
	return utils.Paginated(c, logs, page.Page, page.Limit, total)
}

func (h *ImportHandler) GetLog(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid import log ID")
	}
	log, err := h.Imports.GetLog(c.UserContext(), currentUser(c), id)
	if err != nil {
		return serviceError(c, err, "import log")
	}
	return utils.Success(c, fiber.StatusOK, log)
}
