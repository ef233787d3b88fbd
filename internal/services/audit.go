package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/storage"
	"github.com/crmdesk/server/pkg/logger"
	"github.com/crmdesk/server/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditEntry struct {
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
	RequestID    string
}

type AuditService struct {
	DB      *gorm.DB
	Storage storage.BlobStore
	queue   chan models.AuditLog
	done    chan struct{}
	once    sync.Once
}

func NewAuditService(db *gorm.DB, store storage.BlobStore, queueSize int) *AuditService {
	if queueSize <= 0 {
		queueSize = 1000
	}
	s := &AuditService{
		DB:      db,
		Storage: store,
		queue:   make(chan models.AuditLog, queueSize),
		done:    make(chan struct{}),
	}
	go s.processQueue()
	return s
}

// LogAsync queues an entry without blocking the request. When the queue is
// full the entry is dropped and counted.
func (s *AuditService) LogAsync(entry AuditEntry) {
	row := models.AuditLog{
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		IPAddress:    entry.IPAddress,
		RequestID:    entry.RequestID,
		CreatedAt:    time.Now().UTC(),
	}

	select {
	case s.queue <- row:
	default:
		metrics.AuditDropped.Inc()
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *AuditService) processQueue() {
	defer close(s.done)
	for row := range s.queue {
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("audit_log_insert_failed", err, map[string]interface{}{
				"action": row.Action,
			})
		}
	}
}

// Close stops accepting entries and waits until the queue is written.
func (s *AuditService) Close() {
	s.once.Do(func() {
		close(s.queue)
	})
	<-s.done
}

func (s *AuditService) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditLog, error) {
	logs := []models.AuditLog{}
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, storageErr("list audit logs", err)
	}
	return logs, nil
}

// StartExporter periodically ships new audit rows to the blob store as
// NDJSON files until ctx is cancelled.
func (s *AuditService) StartExporter(ctx context.Context, interval time.Duration) {
	if s.Storage == nil || interval <= 0 {
		logger.Info("audit_exporter_disabled", map[string]interface{}{
			"reason": "no blob store or interval configured",
		})
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, err := s.Export(ctx, now); err != nil {
					logger.Error("audit_export_failed", err, nil)
				}
			}
		}
	}()

	logger.Info("audit_exporter_started", map[string]interface{}{
		"interval": interval.String(),
	})
}

// Export writes every row newer than the cursor into one object and moves
// the cursor. It returns the number of rows exported.
func (s *AuditService) Export(ctx context.Context, now time.Time) (int, error) {
	var cursor models.AuditExportCursor
	err := s.DB.WithContext(ctx).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cursor = models.AuditExportCursor{
			LastExportAt: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := s.DB.WithContext(ctx).Create(&cursor).Error; err != nil {
			return 0, fmt.Errorf("creating export cursor: %w", err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("loading export cursor: %w", err)
	}

	var logs []models.AuditLog
	if err := s.DB.WithContext(ctx).Where("created_at > ?", cursor.LastExportAt).
		Order("created_at ASC").
		Limit(10000).
		Find(&logs).Error; err != nil {
		return 0, fmt.Errorf("querying audit logs: %w", err)
	}
	if len(logs) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, log := range logs {
		if err := enc.Encode(log); err != nil {
			return 0, fmt.Errorf("encoding audit log %s: %w", log.ID, err)
		}
	}

	now = now.UTC()
	objectName := fmt.Sprintf("audit-logs/%s/%s.ndjson",
		now.Format("2006/01/02"),
		now.Format("15-04-05"),
	)
	if err := s.Storage.Upload(ctx, objectName, &buf, int64(buf.Len()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("uploading %s: %w", objectName, err)
	}

	lastCreatedAt := logs[len(logs)-1].CreatedAt
	if err := s.DB.WithContext(ctx).Model(&cursor).Updates(map[string]interface{}{
		"last_export_at": lastCreatedAt,
		"exported_count": gorm.Expr("exported_count + ?", len(logs)),
	}).Error; err != nil {
		return 0, fmt.Errorf("advancing export cursor: %w", err)
	}

	logger.Info("audit_export_success", map[string]interface{}{
		"object_name": objectName,
		"count":       len(logs),
	})
	return len(logs), nil
}
