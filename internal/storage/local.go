package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/crmdesk/server/pkg/logger"
)

// LocalStore keeps blobs as plain files below a root directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory %s: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

func (l *LocalStore) path(objectName string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectName))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object name %q", objectName)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *LocalStore) Upload(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	target, err := l.path(objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, reader)
	if err != nil {
		tmp.Close()
		logger.Error("local_upload_failed", err, map[string]interface{}{
			"object_name": objectName,
		})
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return err
	}

	logger.Info("local_upload_success", map[string]interface{}{
		"object_name": objectName,
		"size":        written,
	})
	return nil
}

func (l *LocalStore) Download(_ context.Context, objectName string) (io.ReadCloser, error) {
	target, err := l.path(objectName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		logger.Error("local_download_failed", err, map[string]interface{}{
			"object_name": objectName,
		})
		return nil, err
	}
	return file, nil
}

func (l *LocalStore) Delete(_ context.Context, objectName string) error {
	target, err := l.path(objectName)
	if err != nil {
		return err
	}
	err = os.Remove(target)
	if errors.Is(err, os.ErrNotExist) {
		return ErrBlobNotFound
	}
	if err != nil {
		logger.Error("local_delete_failed", err, map[string]interface{}{
			"object_name": objectName,
		})
		return err
	}
	logger.Info("local_delete_success", map[string]interface{}{
		"object_name": objectName,
	})
	return nil
}
