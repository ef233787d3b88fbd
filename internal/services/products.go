package services

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/metrics"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ListOptions struct {
	Search string
	Sort   string
	Page   utils.PaginationParams
}

type ProductInput struct {
	NameEn       string              `json:"nameEn" validate:"max=255"`
	NameHe       string              `json:"nameHe" validate:"max=255"`
	Code         string              `json:"code" validate:"required,max=100"`
	Price        *float64            `json:"price" validate:"required,gte=0"`
	Discount     float64             `json:"discount" validate:"gte=0"`
	DiscountType models.DiscountType `json:"discountType" validate:"omitempty,oneof=percent fixed"`
}

func (in *ProductInput) normalize() {
	in.NameEn = strings.TrimSpace(in.NameEn)
	in.NameHe = strings.TrimSpace(in.NameHe)
	in.Code = strings.TrimSpace(in.Code)
	if in.DiscountType == "" {
		in.DiscountType = models.DiscountPercent
	}
}

// Validate normalises the input and returns the first field problem.
func (in *ProductInput) Validate() error {
	in.normalize()
	if in.NameEn == "" && in.NameHe == "" {
		return invalid("nameEn", "nameEn or nameHe is required")
	}
	if in.Price != nil && !finite(*in.Price) {
		return invalid("price", "price must be a finite number")
	}
	if !finite(in.Discount) {
		return invalid("discount", "discount must be a finite number")
	}
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.DiscountType == models.DiscountPercent && in.Discount > 100 {
		return invalid("discount", "percent discount must be at most 100")
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

func (in ProductInput) build(owner uuid.UUID) models.Product {
	product := models.Product{
		NameEn:       in.NameEn,
		NameHe:       in.NameHe,
		Code:         in.Code,
		Price:        *in.Price,
		Discount:     in.Discount,
		DiscountType: in.DiscountType,
	}
	product.ID = uuid.New()
	product.UserID = &owner
	product.Version = 1
	return product
}

type ProductService struct {
	Guard *Guard[models.Product]
}

func NewProductService(db *gorm.DB) *ProductService {
	return &ProductService{
		Guard: NewGuard(NewCollection[models.Product](db, "products").OnDelete(unlinkProducts), "user_id"),
	}
}

// unlinkProducts drops deleted product ids from every client that links them.
func unlinkProducts(tx *gorm.DB, ids []uuid.UUID) error {
	query := tx.Model(&models.Client{}).Select("id", "product_ids")
	for i, id := range ids {
		like := "%" + id.String() + "%"
		if i == 0 {
			query = query.Where("CAST(product_ids AS TEXT) LIKE ?", like)
		} else {
			query = query.Or("CAST(product_ids AS TEXT) LIKE ?", like)
		}
	}

	var linked []models.Client
	if err := query.Find(&linked).Error; err != nil {
		return err
	}

	gone := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	for _, client := range linked {
		kept := models.ProductIDList{}
		for _, id := range client.ProductIDs {
			if !gone[id] {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(client.ProductIDs) {
			continue
		}
		if err := tx.Model(&models.Client{}).Where("id = ?", client.ID).Update("product_ids", kept).Error; err != nil {
			return err
		}
	}
	return nil
}

// ExistingIDs returns the subset of ids that still exist, whoever owns them.
func (s *ProductService) ExistingIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	existing := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	var found []uuid.UUID
	if err := s.Guard.Rows().DB().WithContext(ctx).Model(&models.Product{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, storageErr("resolve products", err)
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

var ProductSortFields = map[string]string{
	"nameEn":    "name_en",
	"nameHe":    "name_he",
	"code":      "code",
	"price":     "price",
	"createdAt": "created_at",
}

func (s *ProductService) List(ctx context.Context, user *models.User, opts ListOptions) ([]models.Product, int64, error) {
	query := s.Guard.Scope(ctx, user)
	if search := strings.TrimSpace(opts.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name_en) LIKE ? OR LOWER(name_he) LIKE ? OR LOWER(code) LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, storageErr("count products", err)
	}

	sort := opts.Sort
	if sort == "" {
		sort = "created_at ASC"
	}

	products := []models.Product{}
	if err := utils.ApplyPagination(query.Order(sort).Order("id ASC"), opts.Page).Find(&products).Error; err != nil {
		return nil, 0, storageErr("list products", err)
	}
	return products, total, nil
}

func (s *ProductService) Get(ctx context.Context, user *models.User, id uuid.UUID) (*models.Product, error) {
	return s.Guard.Fetch(ctx, user, id)
}

func (s *ProductService) Create(ctx context.Context, user *models.User, input ProductInput) (*models.Product, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	product := input.build(user.ID)
	if err := s.Guard.Rows().Create(ctx, &product); err != nil {
		return nil, err
	}

	logger.InfoWithUser(user.ID.String(), "product_created", map[string]interface{}{
		"product_id": product.ID.String(),
		"code":       product.Code,
	})
	return &product, nil
}

// Update replaces the editable fields. A zero expectedVersion means the
// caller did not send one; the version read by the ownership check is used.
func (s *ProductService) Update(ctx context.Context, user *models.User, id uuid.UUID, expectedVersion int64, input ProductInput) (*models.Product, error) {
	current, err := s.Guard.Fetch(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if expectedVersion == 0 {
		expectedVersion = current.Version
	}

	updated, err := s.Guard.Rows().Update(ctx, id, expectedVersion, map[string]interface{}{
		"name_en":       input.NameEn,
		"name_he":       input.NameHe,
		"code":          input.Code,
		"price":         *input.Price,
		"discount":      input.Discount,
		"discount_type": input.DiscountType,
	})
	if errors.Is(err, ErrConflict) {
		metrics.VersionConflicts.WithLabelValues("products").Inc()
	}
	return updated, err
}

func (s *ProductService) Delete(ctx context.Context, user *models.User, id uuid.UUID) (*models.Product, error) {
	return s.Guard.Delete(ctx, user, id)
}

func (s *ProductService) BulkDelete(ctx context.Context, user *models.User, ids []uuid.UUID) (*BulkDeleteResult, error) {
	return s.Guard.DeleteMany(ctx, user, ids)
}

// VisibleIDs returns the subset of ids the user can see.
func (s *ProductService) VisibleIDs(ctx context.Context, user *models.User, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	visible := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return visible, nil
	}
	var found []uuid.UUID
	if err := s.Guard.Scope(ctx, user).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, storageErr("resolve products", err)
	}
	for _, id := range found {
		visible[id] = true
	}
	return visible, nil
}
