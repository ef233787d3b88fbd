package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/crmdesk/server/internal/importer"
	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/metrics"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImportSource struct {
	FileName string
	FileSize int64
	FileType string
}

// ImportRow is one candidate record. Err carries a problem found while
// parsing the source, before validation.
type ImportRow[T any] struct {
	Row   int
	Input T
	Err   *ValidationError
}

// RowsFromInputs numbers JSON bulk payloads from 1.
func RowsFromInputs[T any](inputs []T) []ImportRow[T] {
	rows := make([]ImportRow[T], len(inputs))
	for i := range inputs {
		rows[i] = ImportRow[T]{Row: i + 1, Input: inputs[i]}
	}
	return rows
}

func ProductRowsFromRecords(records []importer.Record) []ImportRow[ProductInput] {
	rows := make([]ImportRow[ProductInput], 0, len(records))
	for _, record := range records {
		row := ImportRow[ProductInput]{Row: record.Row}
		row.Input = ProductInput{
			NameEn:       record.Get("nameEn"),
			NameHe:       record.Get("nameHe"),
			Code:         record.Get("code"),
			DiscountType: models.DiscountType(strings.ToLower(record.Get("discountType"))),
		}

		if raw := record.Get("price"); raw != "" {
			price, err := parseNumber(raw)
			if err != nil {
				row.Err = invalid("price", "price must be a number")
			} else {
				row.Input.Price = &price
			}
		}
		if raw := record.Get("discount"); raw != "" && row.Err == nil {
			discount, err := parseNumber(raw)
			if err != nil {
				row.Err = invalid("discount", "discount must be a number")
			} else {
				row.Input.Discount = discount
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func ClientRowsFromRecords(records []importer.Record) []ImportRow[ClientInput] {
	rows := make([]ImportRow[ClientInput], 0, len(records))
	for _, record := range records {
		rows = append(rows, ImportRow[ClientInput]{
			Row: record.Row,
			Input: ClientInput{
				Name:  record.Get("name"),
				PC:    record.Get("pc"),
				Phone: record.Get("phone"),
				Email: record.Get("email"),
			},
		})
	}
	return rows
}

// parseNumber accepts plain finite numbers with an optional currency sign or
// thousands separators.
func parseNumber(raw string) (float64, error) {
	cleaned := strings.NewReplacer(",", "", "$", "", "₪", "", "%", "", " ", "").Replace(raw)
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, fmt.Errorf("%q is not a finite number", raw)
	}
	return n, nil
}

type ImportService struct {
	DB       *gorm.DB
	Products *ProductService
	Clients  *ClientService
	Logs     *Guard[models.ImportLog]
	MaxRows  int
}

func NewImportService(db *gorm.DB, products *ProductService, clients *ClientService, maxRows int) *ImportService {
	return &ImportService{
		DB:       db,
		Products: products,
		Clients:  clients,
		Logs:     NewGuard(NewCollection[models.ImportLog](db, "import_logs"), "imported_by_id"),
		MaxRows:  maxRows,
	}
}

// resolveOwner returns who the imported rows will belong to. Only admins may
// import on behalf of someone else.
func (s *ImportService) resolveOwner(ctx context.Context, actor *models.User, assigned *uuid.UUID) (uuid.UUID, *uuid.UUID, error) {
	if assigned == nil || *assigned == actor.ID {
		return actor.ID, nil, nil
	}
	if !actor.IsAdmin() {
		return uuid.Nil, nil, ErrAccessDenied
	}

	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", *assigned).Count(&count).Error; err != nil {
		return uuid.Nil, nil, storageErr("resolve assigned user", err)
	}
	if count == 0 {
		return uuid.Nil, nil, invalid("assignedUserId", "assigned user does not exist")
	}
	return *assigned, assigned, nil
}

func (s *ImportService) ImportProducts(ctx context.Context, actor *models.User, rows []ImportRow[ProductInput], assigned *uuid.UUID, src ImportSource) (*models.ImportLog, error) {
	return runImport(ctx, s, actor, models.ImportTypeProducts, rows, assigned, src,
		func(_ context.Context, in *ProductInput, owner uuid.UUID) (models.Product, error) {
			if err := in.Validate(); err != nil {
				return models.Product{}, err
			}
			return in.build(owner), nil
		},
		func(p models.Product) uuid.UUID { return p.ID },
	)
}

func (s *ImportService) ImportClients(ctx context.Context, actor *models.User, rows []ImportRow[ClientInput], assigned *uuid.UUID, src ImportSource) (*models.ImportLog, error) {
	return runImport(ctx, s, actor, models.ImportTypeClients, rows, assigned, src,
		func(ctx context.Context, in *ClientInput, owner uuid.UUID) (models.Client, error) {
			if err := in.Validate(); err != nil {
				return models.Client{}, err
			}
			if err := s.Clients.checkProducts(ctx, actor, in.ProductIDs); err != nil {
				return models.Client{}, err
			}
			return in.build(owner), nil
		},
		func(c models.Client) uuid.UUID { return c.ID },
	)
}

// runImport validates every row, inserts the valid ones together with the
// import log in one transaction and reports the invalid ones per row.
func runImport[T any, R any](
	ctx context.Context,
	s *ImportService,
	actor *models.User,
	kind models.ImportType,
	rows []ImportRow[T],
	assigned *uuid.UUID,
	src ImportSource,
	build func(context.Context, *T, uuid.UUID) (R, error),
	idOf func(R) uuid.UUID,
) (*models.ImportLog, error) {
	if len(rows) == 0 {
		return nil, invalid("rows", "nothing to import")
	}
	if s.MaxRows > 0 && len(rows) > s.MaxRows {
		return nil, invalid("rows", fmt.Sprintf("at most %d rows can be imported at once", s.MaxRows))
	}

	owner, assignedID, err := s.resolveOwner(ctx, actor, assigned)
	if err != nil {
		return nil, err
	}

	records := make([]R, 0, len(rows))
	successful := make([]uuid.UUID, 0, len(rows))
	rowErrors := []models.ImportRowError{}

	for i := range rows {
		row := &rows[i]
		if row.Err != nil {
			rowErrors = append(rowErrors, models.ImportRowError{Row: row.Row, Field: row.Err.Field, Message: row.Err.Message})
			continue
		}

		record, err := build(ctx, &row.Input, owner)
		if err != nil {
			var validation *ValidationError
			if !errors.As(err, &validation) {
				return nil, err
			}
			rowErrors = append(rowErrors, models.ImportRowError{Row: row.Row, Field: validation.Field, Message: validation.Message})
			continue
		}
		records = append(records, record)
		successful = append(successful, idOf(record))
	}

	log := models.ImportLog{
		Type:            kind,
		ImportedBy:      actor.Email,
		ImportedByID:    actor.ID,
		AssignedUserID:  assignedID,
		FileName:        src.FileName,
		FileSize:        src.FileSize,
		FileType:        src.FileType,
		TotalRows:       len(rows),
		SuccessfulCount: len(records),
		FailedCount:     len(rowErrors),
		Status:          models.ImportStatusFor(len(records), len(rowErrors)),
		Errors:          rowErrors,
		Successful:      successful,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(records) > 0 {
			if err := tx.CreateInBatches(&records, 200).Error; err != nil {
				return err
			}
		}
		return tx.Create(&log).Error
	})
	if err != nil {
		return nil, storageErr("import "+string(kind), err)
	}

	metrics.ImportedRows.WithLabelValues(string(kind), "success").Add(float64(log.SuccessfulCount))
	metrics.ImportedRows.WithLabelValues(string(kind), "failed").Add(float64(log.FailedCount))

	logger.InfoWithUser(actor.ID.String(), "import_completed", map[string]interface{}{
		"import_id":  log.ID.String(),
		"type":       string(kind),
		"status":     string(log.Status),
		"successful": log.SuccessfulCount,
		"failed":     log.FailedCount,
	})
	return &log, nil
}

func (s *ImportService) ListLogs(ctx context.Context, user *models.User, page utils.PaginationParams) ([]models.ImportLog, int64, error) {
	query := s.Logs.Scope(ctx, user)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, storageErr("count import logs", err)
	}

	logs := []models.ImportLog{}
	if err := utils.ApplyPagination(query.Order("created_at DESC").Order("id ASC"), page).Find(&logs).Error; err != nil {
		return nil, 0, storageErr("list import logs", err)
	}
	return logs, total, nil
}

func (s *ImportService) GetLog(ctx context.Context, user *models.User, id uuid.UUID) (*models.ImportLog, error) {
	return s.Logs.Fetch(ctx, user, id)
}
