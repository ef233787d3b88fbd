package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/storage"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentFilter struct {
	ClientID *uuid.UUID
	Personal bool
}

type UploadInput struct {
	ClientID     *uuid.UUID
	OriginalName string
	MimeType     string
	Size         int64
	Body         io.Reader
}

type DocumentUpdate struct {
	OriginalName *string    `json:"originalName" validate:"omitempty,min=1,max=255"`
	ClientID     *uuid.UUID `json:"clientId"`
	Personal     bool       `json:"personal"`
}

type DocumentService struct {
	Guard   *Guard[models.Document]
	Clients *Guard[models.Client]
	Store   storage.BlobStore
}

func NewDocumentService(db *gorm.DB, clients *ClientService, store storage.BlobStore) *DocumentService {
	return &DocumentService{
		Guard:   NewGuard(NewCollection[models.Document](db, "documents"), "user_id"),
		Clients: clients.Guard,
		Store:   store,
	}
}

func (s *DocumentService) List(ctx context.Context, user *models.User, filter DocumentFilter) ([]models.Document, error) {
	query := s.Guard.Scope(ctx, user)
	switch {
	case filter.ClientID != nil:
		if err := s.checkClient(ctx, user, *filter.ClientID); err != nil {
			return nil, err
		}
		query = query.Where("client_id = ?", *filter.ClientID)
	case filter.Personal:
		query = query.Where("client_id IS NULL")
	}

	documents := []models.Document{}
	if err := query.Order("uploaded_at DESC").Order("id ASC").Find(&documents).Error; err != nil {
		return nil, storageErr("list documents", err)
	}
	return documents, nil
}

func (s *DocumentService) Get(ctx context.Context, user *models.User, id uuid.UUID) (*models.Document, error) {
	return s.Guard.Fetch(ctx, user, id)
}

// Upload stores the blob first and then the record. When the record cannot
// be written the blob is removed again on a best-effort basis.
func (s *DocumentService) Upload(ctx context.Context, user *models.User, input UploadInput) (*models.Document, error) {
	name := strings.TrimSpace(filepath.Base(input.OriginalName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, invalid("file", "file name is required")
	}
	if input.ClientID != nil {
		if err := s.checkClient(ctx, user, *input.ClientID); err != nil {
			return nil, err
		}
	}

	mimeType := input.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	owner := user.ID
	doc := models.Document{
		ClientID:     input.ClientID,
		OriginalName: name,
		FileName:     blobName(name),
		MimeType:     mimeType,
		Size:         input.Size,
		UploadedAt:   time.Now().UTC(),
	}
	doc.ID = uuid.New()
	doc.UserID = &owner
	doc.Version = 1

	if err := s.Store.Upload(ctx, doc.FileName, input.Body, input.Size, mimeType); err != nil {
		return nil, &StorageError{Op: "upload document", Err: err}
	}

	if err := s.Guard.Rows().Create(ctx, &doc); err != nil {
		if cleanupErr := s.Store.Delete(context.WithoutCancel(ctx), doc.FileName); cleanupErr != nil {
			logger.Error("document_blob_cleanup_failed", cleanupErr, map[string]interface{}{
				"file_name": doc.FileName,
			})
		}
		return nil, err
	}

	logger.InfoWithUser(owner.String(), "document_uploaded", map[string]interface{}{
		"document_id": doc.ID.String(),
		"size":        doc.Size,
	})
	return &doc, nil
}

// Open returns the record and a reader for its blob. The caller closes it.
func (s *DocumentService) Open(ctx context.Context, user *models.User, id uuid.UUID) (*models.Document, io.ReadCloser, error) {
	doc, err := s.Guard.Fetch(ctx, user, id)
	if err != nil {
		return nil, nil, err
	}

	body, err := s.Store.Download(ctx, doc.FileName)
	if errors.Is(err, storage.ErrBlobNotFound) {
		logger.Warn("document_blob_missing", map[string]interface{}{
			"document_id": doc.ID.String(),
			"file_name":   doc.FileName,
		})
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, &StorageError{Op: "download document", Err: err}
	}
	return doc, body, nil
}

// Update renames a document or moves it between a client and the personal
// space. Setting personal clears the client link.
func (s *DocumentService) Update(ctx context.Context, user *models.User, id uuid.UUID, expectedVersion int64, input DocumentUpdate) (*models.Document, error) {
	current, err := s.Guard.Fetch(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	values := map[string]interface{}{}
	if input.OriginalName != nil {
		name := strings.TrimSpace(filepath.Base(*input.OriginalName))
		if name == "" || name == "." {
			return nil, invalid("originalName", "originalName must not be empty")
		}
		values["original_name"] = name
	}
	switch {
	case input.Personal:
		values["client_id"] = nil
	case input.ClientID != nil:
		if err := s.checkClient(ctx, user, *input.ClientID); err != nil {
			return nil, err
		}
		values["client_id"] = *input.ClientID
	}
	if len(values) == 0 {
		return current, nil
	}

	if expectedVersion == 0 {
		expectedVersion = current.Version
	}
	updated, err := s.Guard.Rows().Update(ctx, id, expectedVersion, values)
	if errors.Is(err, ErrConflict) {
		metrics.VersionConflicts.WithLabelValues("documents").Inc()
	}
	return updated, err
}

// Delete removes the record in a transaction and then the blob. A blob that
// cannot be removed is logged and left behind.
func (s *DocumentService) Delete(ctx context.Context, user *models.User, id uuid.UUID) (*models.Document, error) {
	doc, err := s.Guard.Delete(ctx, user, id)
	if err != nil {
		return nil, err
	}

	if err := s.Store.Delete(ctx, doc.FileName); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		logger.Error("document_blob_delete_failed", err, map[string]interface{}{
			"document_id": doc.ID.String(),
			"file_name":   doc.FileName,
		})
	}
	return doc, nil
}

// checkClient verifies that a client a document points at is visible to the
// user. A missing client is reported against the clientId field.
func (s *DocumentService) checkClient(ctx context.Context, user *models.User, id uuid.UUID) error {
	_, err := s.Clients.Fetch(ctx, user, id)
	if errors.Is(err, ErrNotFound) {
		return invalid("clientId", "client not found")
	}
	return err
}

func blobName(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if len(ext) > 16 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return uuid.NewString() + ext
}
