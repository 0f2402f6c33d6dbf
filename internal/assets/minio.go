// Package assets stores artifact preview images in S3-compatible object
// storage and hands out short-lived download links.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotConfigured indicates object storage was not set up for this deployment.
var ErrNotConfigured = errors.New("assets: object storage not configured")

const presignTTL = 15 * time.Minute

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store wraps a MinIO client for a single bucket. A nil *Store is a valid
// disabled store whose methods return ErrNotConfigured.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to object storage and ensures the bucket exists. Returns
// (nil, nil) when no endpoint is configured.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("assets: connect %s: %w", cfg.Endpoint, err)
	}

	s := &Store{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("assets: check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("assets: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Enabled reports whether object storage is available.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

// PutPreview uploads a preview image for an artifact and returns the object
// key it was stored under.
func (s *Store) PutPreview(ctx context.Context, projectID, artifactID, contentType string, data []byte) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}

	key := fmt.Sprintf("previews/%s/%s", projectID, artifactID)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("assets: put %s: %w", key, err)
	}
	return key, nil
}

// PreviewURL returns a presigned download URL for a stored preview.
func (s *Store) PreviewURL(ctx context.Context, key string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("assets: presign %s: %w", key, err)
	}
	return u.String(), nil
}

// DeletePreview removes a stored preview. Missing objects are not an error.
func (s *Store) DeletePreview(ctx context.Context, key string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("assets: delete %s: %w", key, err)
	}
	return nil
}
