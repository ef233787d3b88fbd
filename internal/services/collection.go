package services

import (
	"context"

	"github.com/crmdesk/server/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CascadeFunc removes rows that hang off the deleted ids inside the same
// transaction.
type CascadeFunc func(tx *gorm.DB, ids []uuid.UUID) error

// Collection is the row-level accessor for one table. Every mutation runs in
// a transaction and versioned updates refuse to overwrite a newer row.
type Collection[T models.Identified] struct {
	db      *gorm.DB
	name    string
	cascade CascadeFunc
}

func NewCollection[T models.Identified](db *gorm.DB, name string) *Collection[T] {
	return &Collection[T]{db: db, name: name}
}

func (c *Collection[T]) Name() string {
	return c.name
}

func (c *Collection[T]) DB() *gorm.DB {
	return c.db
}

// OnDelete registers a cascade run before rows are deleted.
func (c *Collection[T]) OnDelete(fn CascadeFunc) *Collection[T] {
	c.cascade = fn
	return c
}

// WithTx returns a copy bound to an open transaction.
func (c *Collection[T]) WithTx(tx *gorm.DB) *Collection[T] {
	return &Collection[T]{db: tx, name: c.name, cascade: c.cascade}
}

func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	var rows []T
	if err := c.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, storageErr("list "+c.name, err)
	}
	return rows, nil
}

// SaveAll replaces the whole collection: listed rows are upserted as given
// and rows missing from the list are deleted. SaveAll(All()) changes nothing.
func (c *Collection[T]) SaveAll(ctx context.Context, list []T) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := c.WithTx(tx)
		if err := scoped.upsert(list); err != nil {
			return err
		}

		keep := make([]uuid.UUID, len(list))
		for i := range list {
			keep[i] = list[i].GetID()
		}

		var stale []uuid.UUID
		query := tx.Model(new(T))
		if len(keep) > 0 {
			query = query.Where("id NOT IN ?", keep)
		}
		if err := query.Pluck("id", &stale).Error; err != nil {
			return err
		}
		_, err := scoped.deleteIDs(stale)
		return err
	})
	return storageErr("save "+c.name, err)
}

// Upsert inserts or overwrites the listed rows and leaves the rest alone.
func (c *Collection[T]) Upsert(ctx context.Context, list []T) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return c.WithTx(tx).upsert(list)
	})
	return storageErr("upsert "+c.name, err)
}

func (c *Collection[T]) upsert(list []T) error {
	if len(list) == 0 {
		return nil
	}
	return c.db.Omit(clause.Associations).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		CreateInBatches(&list, 200).Error
}

func (c *Collection[T]) Find(ctx context.Context, id uuid.UUID) (*T, error) {
	var row T
	if err := c.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, storageErr("find "+c.name, err)
	}
	return &row, nil
}

func (c *Collection[T]) FindMany(ctx context.Context, ids []uuid.UUID) ([]T, error) {
	var rows []T
	if len(ids) == 0 {
		return rows, nil
	}
	if err := c.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, storageErr("find "+c.name, err)
	}
	return rows, nil
}

func (c *Collection[T]) Create(ctx context.Context, row *T) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
	return storageErr("create "+c.name, err)
}

// Update applies updates only if the row still carries expectedVersion and
// bumps the version. A row that moved on yields ErrConflict, a missing row
// ErrNotFound.
func (c *Collection[T]) Update(ctx context.Context, id uuid.UUID, expectedVersion int64, updates map[string]interface{}) (*T, error) {
	var updated T
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		values := make(map[string]interface{}, len(updates)+1)
		for k, v := range updates {
			values[k] = v
		}
		values["version"] = gorm.Expr("version + 1")

		result := tx.Model(new(T)).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(values)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(new(T)).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}
		return tx.Where("id = ?", id).First(&updated).Error
	})
	if err != nil {
		return nil, storageErr("update "+c.name, err)
	}
	return &updated, nil
}

// Condition narrows a delete to rows that still match what the caller
// checked before deleting.
type Condition func(db *gorm.DB) *gorm.DB

// Delete removes one row. When the row exists but no longer matches conds,
// nothing is deleted and ErrConflict is returned.
func (c *Collection[T]) Delete(ctx context.Context, id uuid.UUID, conds ...Condition) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(new(T)).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		deleted, err := c.WithTx(tx).deleteIDs([]uuid.UUID{id}, conds...)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return ErrConflict
		}
		return nil
	})
	return storageErr("delete "+c.name, err)
}

// DeleteMany removes every listed id that exists and returns how many went.
func (c *Collection[T]) DeleteMany(ctx context.Context, ids []uuid.UUID) (int64, error) {
	var deleted int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(ids) == 0 {
			return nil
		}
		var existing []uuid.UUID
		if err := tx.Model(new(T)).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
			return err
		}
		n, err := c.WithTx(tx).deleteIDs(existing)
		deleted = n
		return err
	})
	if err != nil {
		return 0, storageErr("delete "+c.name, err)
	}
	return deleted, nil
}

// deleteIDs runs the cascade and deletes the ids that match conds. It
// returns how many rows went; callers inside a transaction roll back when
// that falls short.
func (c *Collection[T]) deleteIDs(ids []uuid.UUID, conds ...Condition) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if c.cascade != nil {
		if err := c.cascade(c.db, ids); err != nil {
			return 0, err
		}
	}
	query := c.db.Where("id IN ?", ids)
	for _, cond := range conds {
		if cond != nil {
			query = cond(query)
		}
	}
	result := query.Delete(new(T))
	return result.RowsAffected, result.Error
}
