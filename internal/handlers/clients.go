package handlers

import (
	"time"

	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type ClientHandler struct {
	Clients *services.ClientService
	Imports *services.ImportService
	Audit   *services.AuditService
	Now     func() time.Time
}

func NewClientHandler(clients *services.ClientService, imports *services.ImportService, audit *services.AuditService) *ClientHandler {
	return &ClientHandler{Clients: clients, Imports: imports, Audit: audit, Now: time.Now}
}

type clientRequest struct {
	services.ClientInput
	Version int64 `json:"version"`
}

func (h *ClientHandler) List(c *fiber.Ctx) error {
	opts := listOptions(c, services.ClientSortFields)
	clients, total, err := h.Clients.List(c.UserContext(), currentUser(c), opts)
	if err != nil {
		return serviceError(c, err, "client")
	}
	return utils.Paginated(c, clients, opts.Page.Page, opts.Page.Limit, total)
}

func (h *ClientHandler) Get(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid client ID")
	}
	client, err := h.Clients.Get(c.UserContext(), currentUser(c), id)
	if err != nil {
		return serviceError(c, err, "client")
	}
	setVersionHeader(c, client.Version)
	return utils.Success(c, fiber.StatusOK, client)
}

func (h *ClientHandler) Create(c *fiber.Ctx) error {
	user := currentUser(c)
	var input services.ClientInput
	if err := c.BodyParser(&input); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	client, err := h.Clients.Create(c.UserContext(), user, input)
	if err != nil {
		return serviceError(c, err, "client")
	}
	recordAudit(h.Audit, c, user, "client_created", "client", &client.ID, map[string]interface{}{
		"name": client.Name,
	})
	setVersionHeader(c, client.Version)
	return utils.Success(c, fiber.StatusCreated, client)
}

func (h *ClientHandler) Update(c *fiber.Ctx) error {
	user := currentUser(c)
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid client ID")
	}
	var req clientRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	version, err := expectedVersion(c, req.Version)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	client, err := h.Clients.Update(c.UserContext(), user, id, version, req.ClientInput)
	if err != nil {
		return serviceError(c, err, "client")
	}
	recordAudit(h.Audit, c, user, "client_updated", "client", &client.ID, map[string]interface{}{
		"version": client.Version,
	})
	setVersionHeader(c, client.Version)
	return utils.Success(c, fiber.StatusOK, client)
}

func (h *ClientHandler) Delete(c *fiber.Ctx) error {
	user := currentUser(c)
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid client ID")
	}

	client, err := h.Clients.Delete(c.UserContext(), user, id)
	if err != nil {
		return serviceError(c, err, "client")
	}
	recordAudit(h.Audit, c, user, "client_deleted", "client", &client.ID, map[string]interface{}{
		"name": client.Name,
	})
	return utils.Success(c, fiber.StatusOK, client)
}

func (h *ClientHandler) BulkCreate(c *fiber.Ctx) error {
	user := currentUser(c)
	payload, err := parseBulk[services.ClientInput](c)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	log, err := h.Imports.ImportClients(c.UserContext(), user, services.RowsFromInputs(payload.Items), payload.AssignedUserID, services.ImportSource{
		FileName: "bulk-request",
		FileSize: int64(len(c.Body())),
		FileType: "json",
	})
	if err != nil {
		return serviceError(c, err, "client")
	}
	recordAudit(h.Audit, c, user, "clients_bulk_created", "import", &log.ID, map[string]interface{}{
		"status":     string(log.Status),
		"successful": log.SuccessfulCount,
		"failed":     log.FailedCount,
	})
	return utils.Success(c, importStatusCode(log), log)
}

func (h *ClientHandler) BulkDelete(c *fiber.Ctx) error {
	user := currentUser(c)
	ids, err := parseIDs(c)
	if err != nil {
		return utils.FieldError(c, fiber.StatusBadRequest, "ids", "ids must be a non-empty list of client IDs")
	}

	result, err := h.Clients.BulkDelete(c.UserContext(), user, ids)
	if err != nil {
		return serviceError(c, err, "client")
	}
	recordAudit(h.Audit, c, user, "clients_bulk_deleted", "client", nil, map[string]interface{}{
		"deleted":  len(result.Deleted),
		"denied":   len(result.Denied),
		"notFound": len(result.NotFound),
	})
	return utils.Success(c, fiber.StatusOK, result)
}

func (h *ClientHandler) MarkContacted(c *fiber.Ctx) error {
	user := currentUser(c)
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid client ID")
	}

	client, err := h.Clients.MarkContacted(c.UserContext(), user, id, h.Now())
	if err != nil {
		return serviceError(c, err, "client")
	}
	setVersionHeader(c, client.Version)
	return utils.Success(c, fiber.StatusOK, client)
}

func (h *ClientHandler) AddComment(c *fiber.Ctx) error {
	user := currentUser(c)
	clientID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid client ID")
	}
	var input services.CommentInput
	if err := c.BodyParser(&input); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	comment, err := h.Clients.AddComment(c.UserContext(), user, clientID, input)
	if err != nil {
		return serviceError(c, err, "client")
	}
	return utils.Success(c, fiber.StatusCreated, comment)
}

func (h *ClientHandler) DeleteComment(c *fiber.Ctx) error {
	user := currentUser(c)
	clientID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid client ID")
	}
	commentID, err := parseUUID(c.Params("commentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid comment ID")
	}

	if err := h.Clients.DeleteComment(c.UserContext(), user, clientID, commentID); err != nil {
		return serviceError(c, err, "comment")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "comment deleted"})
}

func (h *ClientHandler) AddReminder(c *fiber.Ctx) error {
	user := currentUser(c)
	clientID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid client ID")
	}
	var input services.ReminderInput
	if err := c.BodyParser(&input); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	reminder, err := h.Clients.AddReminder(c.UserContext(), user, clientID, input)
	if err != nil {
		return serviceError(c, err, "client")
	}
	return utils.Success(c, fiber.StatusCreated, reminder)
}

func (h *ClientHandler) UpdateReminder(c *fiber.Ctx) error {
	user := currentUser(c)
	clientID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid client ID")
	}
	reminderID, err := parseUUID(c.Params("reminderId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid reminder ID")
	}
	var input services.ReminderInput
	if err := c.BodyParser(&input); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	reminder, err := h.Clients.UpdateReminder(c.UserContext(), user, clientID, reminderID, input)
	if err != nil {
		return serviceError(c, err, "reminder")
	}
	return utils.Success(c, fiber.StatusOK, reminder)
}

func (h *ClientHandler) DeleteReminder(c *fiber.Ctx) error {
	user := currentUser(c)
	clientID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid client ID")
	}
	reminderID, err := parseUUID(c.Params("reminderId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid reminder ID")
	}

	if err := h.Clients.DeleteReminder(c.UserContext(), user, clientID, reminderID); err != nil {
		return serviceError(c, err, "reminder")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "reminder deleted"})
}
