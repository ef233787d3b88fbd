package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/metrics"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ClientInput struct {
	Name       string      `json:"name" validate:"required,max=255"`
	PC         string      `json:"pc" validate:"max=100"`
	Phone      string      `json:"phone" validate:"max=50"`
	Email      string      `json:"email" validate:"omitempty,email,max=255"`
	ProductIDs []uuid.UUID `json:"productIds"`
}

func (in *ClientInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.PC = strings.TrimSpace(in.PC)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	if in.ProductIDs == nil {
		in.ProductIDs = []uuid.UUID{}
	}
	return validateStruct(in)
}

func (in ClientInput) build(owner uuid.UUID) models.Client {
	client := models.Client{
		Name:       in.Name,
		PC:         in.PC,
		Phone:      in.Phone,
		Email:      in.Email,
		ProductIDs: models.ProductIDList(in.ProductIDs),
	}
	client.ID = uuid.New()
	client.UserID = &owner
	client.Version = 1
	return client
}

type CommentInput struct {
	Text string `json:"text" validate:"required,max=5000"`
}

type ReminderInput struct {
	Date time.Time `json:"date" validate:"required"`
	Note string    `json:"note" validate:"max=2000"`
	Done bool      `json:"done"`
}

type ClientService struct {
	DB       *gorm.DB
	Guard    *Guard[models.Client]
	Products *ProductService
}

func NewClientService(db *gorm.DB, products *ProductService) *ClientService {
	rows := NewCollection[models.Client](db, "clients").OnDelete(deleteClientChildren)
	return &ClientService{
		DB:       db,
		Guard:    NewGuard(rows, "user_id"),
		Products: products,
	}
}

func deleteClientChildren(tx *gorm.DB, ids []uuid.UUID) error {
	if err := tx.Where("client_id IN ?", ids).Delete(&models.ClientComment{}).Error; err != nil {
		return err
	}
	return tx.Where("client_id IN ?", ids).Delete(&models.ClientReminder{}).Error
}

func preloadChildren(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Comments", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Preload("Reminders", func(tx *gorm.DB) *gorm.DB { return tx.Order("date ASC") })
}

var ClientSortFields = map[string]string{
	"name":          "name",
	"email":         "email",
	"lastContacted": "last_contacted",
	"createdAt":     "created_at",
}

func (s *ClientService) List(ctx context.Context, user *models.User, opts ListOptions) ([]models.Client, int64, error) {
	query := s.Guard.Scope(ctx, user)
	if search := strings.TrimSpace(opts.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(phone) LIKE ? OR LOWER(pc) LIKE ?", like, like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, storageErr("count clients", err)
	}

	sort := opts.Sort
	if sort == "" {
		sort = "created_at ASC"
	}

	clients := []models.Client{}
	if err := utils.ApplyPagination(preloadChildren(query).Order(sort).Order("id ASC"), opts.Page).Find(&clients).Error; err != nil {
		return nil, 0, storageErr("list clients", err)
	}
	return clients, total, nil
}

// Get returns the client with its comments and reminders.
func (s *ClientService) Get(ctx context.Context, user *models.User, id uuid.UUID) (*models.Client, error) {
	if _, err := s.Guard.Fetch(ctx, user, id); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

func (s *ClientService) load(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	var client models.Client
	if err := preloadChildren(s.DB.WithContext(ctx)).Where("id = ?", id).First(&client).Error; err != nil {
		return nil, storageErr("load client", err)
	}
	return &client, nil
}

func (s *ClientService) checkProducts(ctx context.Context, user *models.User, ids []uuid.UUID) error {
	if len(ids) == 0 || s.Products == nil {
		return nil
	}
	visible, err := s.Products.VisibleIDs(ctx, user, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !visible[id] {
			return invalid("productIds", "unknown product "+id.String())
		}
	}
	return nil
}

// relinkProducts prepares the product links for an update. Links to products
// that no longer exist are dropped. Links the client already holds are kept
// even if the product has since moved to another owner; new links must point
// at products the user can see.
func (s *ClientService) relinkProducts(ctx context.Context, user *models.User, held models.ProductIDList, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 || s.Products == nil {
		return ids, nil
	}
	existing, err := s.Products.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	already := make(map[uuid.UUID]bool, len(held))
	for _, id := range held {
		already[id] = true
	}

	kept := make([]uuid.UUID, 0, len(ids))
	var added []uuid.UUID
	for _, id := range ids {
		if !existing[id] {
			continue
		}
		kept = append(kept, id)
		if !already[id] {
			added = append(added, id)
		}
	}
	if err := s.checkProducts(ctx, user, added); err != nil {
		return nil, err
	}
	return kept, nil
}

func (s *ClientService) Create(ctx context.Context, user *models.User, input ClientInput) (*models.Client, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkProducts(ctx, user, input.ProductIDs); err != nil {
		return nil, err
	}

	client := input.build(user.ID)
	if err := s.Guard.Rows().Create(ctx, &client); err != nil {
		return nil, err
	}
	client.Comments = []models.ClientComment{}
	client.Reminders = []models.ClientReminder{}

	logger.InfoWithUser(user.ID.String(), "client_created", map[string]interface{}{
		"client_id": client.ID.String(),
	})
	return &client, nil
}

func (s *ClientService) Update(ctx context.Context, user *models.User, id uuid.UUID, expectedVersion int64, input ClientInput) (*models.Client, error) {
	current, err := s.Guard.Fetch(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if input.ProductIDs, err = s.relinkProducts(ctx, user, current.ProductIDs, input.ProductIDs); err != nil {
		return nil, err
	}
	if expectedVersion == 0 {
		expectedVersion = current.Version
	}

	if _, err := s.update(ctx, id, expectedVersion, map[string]interface{}{
		"name":        input.Name,
		"pc":          input.PC,
		"phone":       input.Phone,
		"email":       input.Email,
		"product_ids": models.ProductIDList(input.ProductIDs),
	}); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

func (s *ClientService) update(ctx context.Context, id uuid.UUID, expectedVersion int64, values map[string]interface{}) (*models.Client, error) {
	updated, err := s.Guard.Rows().Update(ctx, id, expectedVersion, values)
	if errors.Is(err, ErrConflict) {
		metrics.VersionConflicts.WithLabelValues("clients").Inc()
	}
	return updated, err
}

func (s *ClientService) Delete(ctx context.Context, user *models.User, id uuid.UUID) (*models.Client, error) {
	return s.Guard.Delete(ctx, user, id)
}

func (s *ClientService) BulkDelete(ctx context.Context, user *models.User, ids []uuid.UUID) (*BulkDeleteResult, error) {
	return s.Guard.DeleteMany(ctx, user, ids)
}

// MarkContacted stamps lastContacted with now.
func (s *ClientService) MarkContacted(ctx context.Context, user *models.User, id uuid.UUID, now time.Time) (*models.Client, error) {
	current, err := s.Guard.Fetch(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.update(ctx, id, current.Version, map[string]interface{}{
		"last_contacted": now.UTC(),
	}); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// AddComment records a note on the client. The author is kept on the
// comment, independent of who owns the client.
func (s *ClientService) AddComment(ctx context.Context, user *models.User, clientID uuid.UUID, input CommentInput) (*models.ClientComment, error) {
	if _, err := s.Guard.Fetch(ctx, user, clientID); err != nil {
		return nil, err
	}
	input.Text = strings.TrimSpace(input.Text)
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	author := user.ID
	comment := models.ClientComment{ClientID: clientID, UserID: &author, Text: input.Text}
	if err := s.DB.WithContext(ctx).Create(&comment).Error; err != nil {
		return nil, storageErr("create comment", err)
	}
	return &comment, nil
}

func (s *ClientService) DeleteComment(ctx context.Context, user *models.User, clientID, commentID uuid.UUID) error {
	if _, err := s.Guard.Fetch(ctx, user, clientID); err != nil {
		return err
	}
	result := s.DB.WithContext(ctx).
		Where("id = ? AND client_id = ?", commentID, clientID).
		Delete(&models.ClientComment{})
	if result.Error != nil {
		return storageErr("delete comment", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ClientService) AddReminder(ctx context.Context, user *models.User, clientID uuid.UUID, input ReminderInput) (*models.ClientReminder, error) {
	if _, err := s.Guard.Fetch(ctx, user, clientID); err != nil {
		return nil, err
	}
	input.Note = strings.TrimSpace(input.Note)
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	author := user.ID
	reminder := models.ClientReminder{
		ClientID: clientID,
		UserID:   &author,
		Date:     input.Date.UTC(),
		Note:     input.Note,
		Done:     input.Done,
	}
	if err := s.DB.WithContext(ctx).Create(&reminder).Error; err != nil {
		return nil, storageErr("create reminder", err)
	}
	return &reminder, nil
}

func (s *ClientService) UpdateReminder(ctx context.Context, user *models.User, clientID, reminderID uuid.UUID, input ReminderInput) (*models.ClientReminder, error) {
	if _, err := s.Guard.Fetch(ctx, user, clientID); err != nil {
		return nil, err
	}
	input.Note = strings.TrimSpace(input.Note)
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	var reminder models.ClientReminder
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ClientReminder{}).
			Where("id = ? AND client_id = ?", reminderID, clientID).
			Updates(map[string]interface{}{
				"date": input.Date.UTC(),
				"note": input.Note,
				"done": input.Done,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", reminderID).First(&reminder).Error
	})
	if err != nil {
		return nil, storageErr("update reminder", err)
	}
	return &reminder, nil
}

func (s *ClientService) DeleteReminder(ctx context.Context, user *models.User, clientID, reminderID uuid.UUID) error {
	if _, err := s.Guard.Fetch(ctx, user, clientID); err != nil {
		return err
	}
	result := s.DB.WithContext(ctx).
		Where("id = ? AND client_id = ?", reminderID, clientID).
		Delete(&models.ClientReminder{})
	if result.Error != nil {
		return storageErr("delete reminder", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
