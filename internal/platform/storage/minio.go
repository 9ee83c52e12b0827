// Package storage keeps uploaded project files in an S3 compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures the MinIO connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether enough settings are present to connect.
func (o Options) Enabled() bool {
	return o.Endpoint != "" && o.Bucket != ""
}

// MinioStore is a blob store backed by MinIO.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to MinIO and makes sure the bucket exists.
func NewMinio(ctx context.Context, opts Options) (*MinioStore, error) {
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("platform/storage: client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("platform/storage: bucket exists: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("platform/storage: make bucket: %w", err)
		}
	}
	return &MinioStore{client: cli, bucket: opts.Bucket}, nil
}

// Put uploads size bytes from r under key.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("platform/storage: put %s: %w", key, err)
	}
	return nil
}

// Get opens the object stored under key.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("platform/storage: get %s: %w", key, err)
	}
	return obj, nil
}

// Delete removes the object stored under key.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("platform/storage: delete %s: %w", key, err)
	}
	return nil
}

// Discard is used when no object store is configured. Writes are drained and
// dropped; reads fail with ErrNotConfigured.
type Discard struct{}

// ErrNotConfigured is returned by Discard reads.
var ErrNotConfigured = errors.New("platform/storage: object store not configured")

// Put drains r.
func (Discard) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// Get always fails.
func (Discard) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, ErrNotConfigured
}

// Delete is a no-op.
func (Discard) Delete(ctx context.Context, key string) error {
	return nil
}
