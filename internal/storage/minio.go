package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sdko-org/sharelink/internal/config"
	"github.com/sirupsen/logrus"
)

type MinioStorage struct {
	client *minio.Client
	log    *logrus.Entry
}

func NewMinioStorage(logger *logrus.Logger, cfg *config.Config) (*MinioStorage, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	return &MinioStorage{
		client: client,
		log:    logger.WithFields(logrus.Fields{"component": "storage", "backend": "minio"}),
	}, nil
}

func (m *MinioStorage) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, m.translate(err, bucket, key)
	}
	return objectInfoFromMinio(info), nil
}

func (m *MinioStorage) Open(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, m.translate(err, bucket, key)
	}

	// GetObject is lazy; Stat surfaces a missing key before any bytes are sent.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, ObjectInfo{}, m.translate(err, bucket, key)
	}
	return obj, objectInfoFromMinio(info), nil
}

func (m *MinioStorage) translate(err error, bucket, key string) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	m.log.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
	}).WithError(err).Error("MinIO request failed")
	return fmt.Errorf("minio request failed: %w", err)
}

func objectInfoFromMinio(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		ContentType:  info.ContentType,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}
}
