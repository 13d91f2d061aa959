package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sdko-org/sharelink/internal/config"
	"github.com/sirupsen/logrus"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	ContentType  string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Storage is the slice of the object store the share service relies on.
type Storage interface {
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
}

// New builds the backend selected by cfg.StorageBackend.
func New(logger *logrus.Logger, cfg *config.Config) (Storage, error) {
	switch cfg.StorageBackend {
	case "minio":
		return NewMinioStorage(logger, cfg)
	default:
		return NewS3Storage(logger, cfg), nil
	}
}
