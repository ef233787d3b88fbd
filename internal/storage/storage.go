package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/crmdesk/server/internal/config"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobStore holds document bodies and audit exports, keyed by object name.
type BlobStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectName string) error
}

func New(ctx context.Context, cfg config.StorageConfig) (BlobStore, error) {
	switch cfg.Driver {
	case "local", "":
		return NewLocalStore(cfg.LocalDir)
	case "minio", "s3":
		store, err := NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
