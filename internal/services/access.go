package services

import (
	"context"
	"errors"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Guard applies the ownership rules to one collection: admins see and mutate
// everything, everyone else only rows whose owner column holds their id.
// Rows without an owner are visible to admins only.
type Guard[T models.Owned] struct {
	rows        *Collection[T]
	ownerColumn string
}

func NewGuard[T models.Owned](rows *Collection[T], ownerColumn string) *Guard[T] {
	return &Guard[T]{rows: rows, ownerColumn: ownerColumn}
}

func (g *Guard[T]) Rows() *Collection[T] {
	return g.rows
}

func (g *Guard[T]) IsAdmin(user *models.User) bool {
	return user.IsAdmin()
}

// Scope returns a query over the rows the user may see.
func (g *Guard[T]) Scope(ctx context.Context, user *models.User) *gorm.DB {
	query := g.rows.DB().WithContext(ctx).Model(new(T))
	if g.IsAdmin(user) {
		return query
	}
	if user == nil {
		return query.Where("1 = 0")
	}
	return query.Where(g.ownerColumn+" = ?", user.ID)
}

// Fetch loads one row, telling a missing row (ErrNotFound) apart from a row
// owned by someone else (ErrAccessDenied).
func (g *Guard[T]) Fetch(ctx context.Context, user *models.User, id uuid.UUID) (*T, error) {
	row, err := g.rows.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !g.CanAccess(user, *row) {
		g.deny(user, id)
		return nil, ErrAccessDenied
	}
	return row, nil
}

func (g *Guard[T]) CanAccess(user *models.User, row T) bool {
	if user == nil {
		return false
	}
	if g.IsAdmin(user) {
		return true
	}
	owner := row.OwnerID()
	return owner != nil && *owner == user.ID
}

// Assign hands a row to another user. Only admins may call it and the target
// user must exist.
func (g *Guard[T]) Assign(ctx context.Context, admin *models.User, id uuid.UUID, newOwner uuid.UUID) (*T, error) {
	if !g.IsAdmin(admin) {
		return nil, ErrAccessDenied
	}

	var assigned T
	err := g.rows.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users int64
		if err := tx.Model(&models.User{}).Where("id = ?", newOwner).Count(&users).Error; err != nil {
			return err
		}
		if users == 0 {
			return invalid("userId", "target user does not exist")
		}

		result := tx.Model(new(T)).Where("id = ?", id).Updates(map[string]interface{}{
			g.ownerColumn: newOwner,
			"version":     gorm.Expr("version + 1"),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", id).First(&assigned).Error
	})
	if err != nil {
		return nil, storageErr("assign "+g.rows.Name(), err)
	}

	logger.InfoWithUser(admin.ID.String(), "ownership_assigned", map[string]interface{}{
		"resource":    g.rows.Name(),
		"resource_id": id.String(),
		"new_owner":   newOwner.String(),
	})
	return &assigned, nil
}

// AssignOrphans hands every row without an owner to newOwner and returns how
// many rows moved.
func (g *Guard[T]) AssignOrphans(ctx context.Context, admin *models.User, newOwner uuid.UUID) (int64, error) {
	if !g.IsAdmin(admin) {
		return 0, ErrAccessDenied
	}

	var moved int64
	err := g.rows.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users int64
		if err := tx.Model(&models.User{}).Where("id = ?", newOwner).Count(&users).Error; err != nil {
			return err
		}
		if users == 0 {
			return invalid("userId", "target user does not exist")
		}

		result := tx.Model(new(T)).Where(g.ownerColumn + " IS NULL").Updates(map[string]interface{}{
			g.ownerColumn: newOwner,
			"version":     gorm.Expr("version + 1"),
		})
		moved = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, storageErr("assign orphaned "+g.rows.Name(), err)
	}

	logger.InfoWithUser(admin.ID.String(), "orphans_assigned", map[string]interface{}{
		"resource":  g.rows.Name(),
		"new_owner": newOwner.String(),
		"count":     moved,
	})
	return moved, nil
}

// Delete removes one row the user may mutate. The owner is checked again by
// the DELETE itself, so a row reassigned after the check is left alone and
// ErrAccessDenied is returned.
func (g *Guard[T]) Delete(ctx context.Context, user *models.User, id uuid.UUID) (*T, error) {
	row, err := g.Fetch(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := g.rows.Delete(ctx, id, g.stillOwnedBy(user)); err != nil {
		if errors.Is(err, ErrConflict) {
			g.deny(user, id)
			return nil, ErrAccessDenied
		}
		return nil, err
	}
	return row, nil
}

// stillOwnedBy limits a delete to rows the user owns. Admins are not limited.
func (g *Guard[T]) stillOwnedBy(user *models.User) Condition {
	if g.IsAdmin(user) {
		return nil
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(g.ownerColumn+" = ?", user.ID)
	}
}

// BulkDeleteResult reports what happened to every requested id.
type BulkDeleteResult struct {
	Deleted  []uuid.UUID `json:"deleted"`
	Denied   []uuid.UUID `json:"denied"`
	NotFound []uuid.UUID `json:"notFound"`
}

// DeleteMany deletes the requested rows the user may mutate in one
// transaction and reports the rest instead of failing the batch.
func (g *Guard[T]) DeleteMany(ctx context.Context, user *models.User, ids []uuid.UUID) (*BulkDeleteResult, error) {
	result := &BulkDeleteResult{
		Deleted:  []uuid.UUID{},
		Denied:   []uuid.UUID{},
		NotFound: []uuid.UUID{},
	}

	err := g.rows.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := g.rows.WithTx(tx)
		rows, err := scoped.FindMany(ctx, ids)
		if err != nil {
			return err
		}

		found := make(map[uuid.UUID]T, len(rows))
		for _, row := range rows {
			found[row.GetID()] = row
		}

		seen := make(map[uuid.UUID]bool, len(ids))
		var allowed []uuid.UUID
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true

			row, ok := found[id]
			switch {
			case !ok:
				result.NotFound = append(result.NotFound, id)
			case !g.CanAccess(user, row):
				result.Denied = append(result.Denied, id)
			default:
				allowed = append(allowed, id)
			}
		}

		if len(allowed) == 0 {
			return nil
		}
		deleted, err := scoped.deleteIDs(allowed, g.stillOwnedBy(user))
		if err != nil {
			return err
		}
		if deleted != int64(len(allowed)) {
			return ErrConflict
		}
		result.Deleted = allowed
		return nil
	})
	if err != nil {
		return nil, storageErr("bulk delete "+g.rows.Name(), err)
	}

	if len(result.Denied) > 0 {
		metrics.AccessDenied.WithLabelValues(g.rows.Name()).Add(float64(len(result.Denied)))
	}
	return result, nil
}

func (g *Guard[T]) deny(user *models.User, id uuid.UUID) {
	metrics.AccessDenied.WithLabelValues(g.rows.Name()).Inc()
	if user == nil {
		return
	}
	logger.WarnWithUser(user.ID.String(), "access_denied", map[string]interface{}{
		"resource":    g.rows.Name(),
		"resource_id": id.String(),
	})
}
