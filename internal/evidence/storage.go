// Package evidence stores supporting files for answers (meter readings,
// certificates, audit trails) in S3-compatible object storage.
package evidence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"greenledger/api/internal/util"
)

// Storage wraps the object store. Generated reports share the same bucket
// under a separate prefix.
type Storage struct {
	client *minio.Client
	bucket string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewStorage connects to the object store and ensures the bucket exists.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

// UploadEvidence stores one evidence file and returns its object key.
func (s *Storage) UploadEvidence(ctx context.Context, answerID, fileName, contentType string, size int64, body io.Reader) (string, error) {
	key := fmt.Sprintf("evidence/%s/%s-%s", answerID, util.NewID("ev"), fileName)
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("upload evidence: %w", err)
	}
	return key, nil
}

// UploadReport stores a generated report and returns its object key.
func (s *Storage) UploadReport(ctx context.Context, reportID, fileName, contentType string, data []byte) (string, error) {
	key := fmt.Sprintf("reports/%s/%s", reportID, fileName)
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	return key, nil
}

// Download streams an object. The caller must close the returned reader.
func (s *Storage) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", objectKey, err)
	}
	return obj, nil
}

// PresignedURL returns a short-lived direct download link.
func (s *Storage) PresignedURL(ctx context.Context, objectKey, fileName string, ttl time.Duration) (string, error) {
	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectKey, err)
	}
	return u.String(), nil
}

// Delete removes an object.
func (s *Storage) Delete(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", objectKey, err)
	}
	return nil
}
