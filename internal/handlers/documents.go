package handlers

import (
	"errors"
	"mime"
	"strconv"
	"strings"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/downloadlink"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type DocumentHandler struct {
	Documents *services.DocumentService
	Users     *services.UserService
	Links     *downloadlink.Signer
	Audit     *services.AuditService
}

func NewDocumentHandler(documents *services.DocumentService, users *services.UserService, links *downloadlink.Signer, audit *services.AuditService) *DocumentHandler {
	return &DocumentHandler{Documents: documents, Users: users, Links: links, Audit: audit}
}

type documentRequest struct {
	services.DocumentUpdate
	Version int64 `json:"version"`
}

func (h *DocumentHandler) List(c *fiber.Ctx) error {
	var filter services.DocumentFilter
	if raw := strings.TrimSpace(c.Query("clientId")); raw != "" {
		clientID, err := parseUUID(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid client ID")
		}
		filter.ClientID = &clientID
	}
	filter.Personal, _ = strconv.ParseBool(c.Query("personal"))

	docs, err := h.Documents.List(c.UserContext(), currentUser(c), filter)
	if err != nil {
		return serviceError(c, err, "document")
	}
	return utils.Success(c, fiber.StatusOK, docs)
}

func (h *DocumentHandler) Get(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid document ID")
	}
	doc, err := h.Documents.Get(c.UserContext(), currentUser(c), id)
	if err != nil {
		return serviceError(c, err, "document")
	}
	setVersionHeader(c, doc.Version)
	return utils.Success(c, fiber.StatusOK, doc)
}

func (h *DocumentHandler) Upload(c *fiber.Ctx) error {
	user := currentUser(c)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.FieldError(c, fiber.StatusBadRequest, "file", "file is required")
	}

	var clientID *uuid.UUID
	if raw := strings.TrimSpace(c.FormValue("clientId")); raw != "" {
		id, err := parseUUID(raw)
		if err != nil {
			return utils.FieldError(c, fiber.StatusBadRequest, "clientId", "invalid client ID")
		}
		clientID = &id
	}

	file, err := fileHeader.Open()
	if err != nil {
		return serviceError(c, err, "document")
	}
	defer file.Close()

	doc, err := h.Documents.Upload(c.UserContext(), user, services.UploadInput{
		ClientID:     clientID,
		OriginalName: fileHeader.Filename,
		MimeType:     fileHeader.Header.Get("Content-Type"),
		Size:         fileHeader.Size,
		Body:         file,
	})
	if err != nil {
		return serviceError(c, err, "document")
	}
	recordAudit(h.Audit, c, user, "document_uploaded", "document", &doc.ID, map[string]interface{}{
		"name": doc.OriginalName,
		"size": doc.Size,
	})
	return utils.Success(c, fiber.StatusCreated, doc)
}

func (h *DocumentHandler) Download(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid document ID")
	}
	return h.stream(c, currentUser(c), id)
}

// DownloadLink issues a single-use link for clients that cannot attach the
// Authorization header, such as a plain anchor tag.
func (h *DocumentHandler) DownloadLink(c *fiber.Ctx) error {
	user := currentUser(c)
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid document ID")
	}
	if _, err := h.Documents.Get(c.UserContext(), user, id); err != nil {
		return serviceError(c, err, "document")
	}

	token, expiresAt, err := h.Links.Issue(id, user.ID)
	if err != nil {
		return serviceError(c, err, "document")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"path":      "/api/download/" + id.String() + "?token=" + token,
		"token":     token,
		"expiresAt": expiresAt.UTC(),
	})
}

// DownloadWithLink serves a document for a link from DownloadLink. Ownership
// is checked again against the live user row.
func (h *DocumentHandler) DownloadWithLink(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid document ID")
	}

	claims, err := h.Links.Redeem(c.Query("token"))
	if err != nil {
		logger.Warn("download_link_rejected", map[string]interface{}{
			"document_id": id.String(),
			"reason":      err.Error(),
			"ip":          c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired download link")
	}
	if claims.DocumentID != id {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired download link")
	}

	user, err := h.Users.Get(c.UserContext(), claims.UserID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired download link")
		}
		return serviceError(c, err, "user")
	}
	return h.stream(c, user, id)
}

func (h *DocumentHandler) stream(c *fiber.Ctx, user *models.User, id uuid.UUID) error {
	doc, body, err := h.Documents.Open(c.UserContext(), user, id)
	if err != nil {
		return serviceError(c, err, "document")
	}

	recordAudit(h.Audit, c, user, "document_downloaded", "document", &doc.ID, map[string]interface{}{
		"name": doc.OriginalName,
	})
	c.Set("Content-Type", doc.MimeType)
	c.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalName}))
	return c.SendStream(body, int(doc.Size))
}

func (h *DocumentHandler) Update(c *fiber.Ctx) error {
	user := currentUser(c)
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid document ID")
	}
	var req documentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	version, err := expectedVersion(c, req.Version)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	doc, err := h.Documents.Update(c.UserContext(), user, id, version, req.DocumentUpdate)
	if err != nil {
		return serviceError(c, err, "document")
	}
	recordAudit(h.Audit, c, user, "document_updated", "document", &doc.ID, map[string]interface{}{
		"version": doc.Version,
	})
	setVersionHeader(c, doc.Version)
	return utils.Success(c, fiber.StatusOK, doc)
}

func (h *DocumentHandler) Delete(c *fiber.Ctx) error {
	user := currentUser(c)
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid document ID")
	}

	doc, err := h.Documents.Delete(c.UserContext(), user, id)
	if err != nil {
		return serviceError(c, err, "document")
	}
	recordAudit(h.Audit, c, user, "document_deleted", "document", &doc.ID, map[string]interface{}{
		"name": doc.OriginalName,
	})
	return utils.Success(c, fiber.StatusOK, doc)
}
