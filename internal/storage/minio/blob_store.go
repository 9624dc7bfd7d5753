// Package minio provides a BlobStore backed by an S3-compatible MinIO bucket.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

// Config captures the connection settings for MinIO.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectAPI is the subset of the MinIO client the store uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64,
		opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts miniogo.GetObjectOptions) (*miniogo.Object, error)
}

// BlobStore writes artifacts to a MinIO bucket.
type BlobStore struct {
	client ObjectAPI
	bucket string
}

// Dial connects to MinIO and creates the bucket when it does not exist.
func Dial(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, miniogo.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return New(client, cfg.Bucket)
}

// New wraps an existing client.
func New(client ObjectAPI, bucket string) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, bucket: bucket}, nil
}

// PutObject uploads data and returns an s3:// URI.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("path is required")
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// GetObject downloads the object stored under key.
func (s *BlobStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		if miniogo.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %q: %w", key, pipeline.ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}
