// Package storage mirrors run output into S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/timkrebs/image-shrink/internal/metrics"
)

// Storage provides object storage operations
type Storage struct {
	client     *minio.Client
	metrics    *metrics.StorageMetrics
	bucketName string
}

// Config holds MinIO configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// RunPrefix is the key prefix holding every object mirrored for a run
func RunPrefix(runID uuid.UUID) string {
	return "runs/" + runID.String() + "/"
}

// RunObjectKey is the key of one mirrored file
func RunObjectKey(runID uuid.UUID, name string) string {
	return RunPrefix(runID) + path.Base(name)
}

// New creates a new storage client
func New(cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Storage{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// SetMetrics injects metrics collectors into storage client
func (s *Storage) SetMetrics(m *metrics.StorageMetrics) {
	s.metrics = m
}

func (s *Storage) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.OperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	s.metrics.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// UploadFile copies a local file to key
func (s *Storage) UploadFile(ctx context.Context, key, filePath, contentType string) error {
	start := time.Now()
	info, err := s.client.FPutObject(ctx, s.bucketName, key, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	s.observe("upload", start, err)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", filePath, err)
	}

	if s.metrics != nil {
		s.metrics.BytesTransferred.WithLabelValues("upload").Add(float64(info.Size))
	}
	return nil
}

// RemovePrefix deletes every object under prefix and returns how many were
// removed.
func (s *Storage) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	start := time.Now()

	objects := make(chan minio.ObjectInfo)
	listErr := make(chan error, 1)
	count := 0

	go func() {
		defer close(objects)
		for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				listErr <- obj.Err
				return
			}
			count++
			select {
			case objects <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	var err error
	for rErr := range s.client.RemoveObjects(ctx, s.bucketName, objects, minio.RemoveObjectsOptions{}) {
		if err == nil {
			err = fmt.Errorf("failed to remove %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	if err == nil {
		select {
		case lErr := <-listErr:
			err = fmt.Errorf("failed to list %s: %w", prefix, lErr)
		default:
		}
	}

	s.observe("delete", start, err)
	return count, err
}

// GetPresignedURL returns a time-limited download link for key
func (s *Storage) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucketName, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// Health checks if storage is accessible
func (s *Storage) Health(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}
