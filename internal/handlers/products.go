package handlers

import (
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type ProductHandler struct {
	Products *services.ProductService
	Imports  *services.ImportService
	Audit    *services.AuditService
}

func NewProductHandler(products *services.ProductService, imports *services.ImportService, audit *services.AuditService) *ProductHandler {
	return &ProductHandler{Products: products, Imports: imports, Audit: audit}
}

type productRequest struct {
	services.ProductInput
	Version int64 `json:"version"`
}

func (h *ProductHandler) List(c *fiber.Ctx) error {
	opts := listOptions(c, services.ProductSortFields)
	products, total, err := h.Products.List(c.UserContext(), currentUser(c), opts)
	if err != nil {
		return serviceError(c, err, "product")
	}
	return utils.Paginated(c, products, opts.Page.Page, opts.Page.Limit, total)
}

func (h *ProductHandler) Get(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid product ID")
	}
	product, err := h.Products.Get(c.UserContext(), currentUser(c), id)
	if err != nil {
		return serviceError(c, err, "product")
	}
	setVersionHeader(c, product.Version)
	return utils.Success(c, fiber.StatusOK, product)
}

func (h *ProductHandler) Create(c *fiber.Ctx) error {
	user := currentUser(c)
	var input services.ProductInput
	if err := c.BodyParser(&input); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	product, err := h.Products.Create(c.UserContext(), user, input)
	if err != nil {
		return serviceError(c, err, "product")
	}
	recordAudit(h.Audit, c, user, "product_created", "product", &product.ID, map[string]interface{}{
		"code": product.Code,
	})
	setVersionHeader(c, product.Version)
	return utils.Success(c, fiber.StatusCreated, product)
}

func (h *ProductHandler) Update(c *fiber.Ctx) error {
	user := currentUser(c)
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid product ID")
	}
	var req productRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	version, err := expectedVersion(c, req.Version)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	product, err := h.Products.Update(c.UserContext(), user, id, version, req.ProductInput)
	if err != nil {
		return serviceError(c, err, "product")
	}
	recordAudit(h.Audit, c, user, "product_updated", "product", &product.ID, map[string]interface{}{
		"version": product.Version,
	})
	setVersionHeader(c, product.Version)
	return utils.Success(c, fiber.StatusOK, product)
}

func (h *ProductHandler) Delete(c *fiber.Ctx) error {
	user := currentUser(c)
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid product ID")
	}

	product, err := h.Products.Delete(c.UserContext(), user, id)
	if err != nil {
		return serviceError(c, err, "product")
	}
	recordAudit(h.Audit, c, user, "product_deleted", "product", &product.ID, map[string]interface{}{
		"code": product.Code,
	})
	return utils.Success(c, fiber.StatusOK, product)
}

func (h *ProductHandler) BulkCreate(c *fiber.Ctx) error {
	user := currentUser(c)
	payload, err := parseBulk[services.ProductInput](c)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	log, err := h.Imports.ImportProducts(c.UserContext(), user, services.RowsFromInputs(payload.Items), payload.AssignedUserID, services.ImportSource{
		FileName: "bulk-request",
		FileSize: int64(len(c.Body())),
		FileType: "json",
	})
	if err != nil {
		return serviceError(c, err, "product")
	}
	recordAudit(h.Audit, c, user, "products_bulk_created", "import", &log.ID, map[string]interface{}{
		"status":     string(log.Status),
		"successful": log.SuccessfulCount,
		"failed":     log.FailedCount,
	})
	return utils.Success(c, importStatusCode(log), log)
}

func (h *ProductHandler) BulkDelete(c *fiber.Ctx) error {
	user := currentUser(c)
	ids, err := parseIDs(c)
	if err != nil {
		return utils.FieldError(c, fiber.StatusBadRequest, "ids", "ids must be a non-empty list of product IDs")
	}

	result, err := h.Products.BulkDelete(c.UserContext(), user, ids)
	if err != nil {
		return serviceError(c, err, "product")
	}
	recordAudit(h.Audit, c, user, "products_bulk_deleted", "product", nil, map[string]interface{}{
		"deleted":  len(result.Deleted),
		"denied":   len(result.Denied),
		"notFound": len(result.NotFound),
	})
	return utils.Success(c, fiber.StatusOK, result)
}
