package storage

import (
	"context"
	"errors"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/audiolibrelab/micnote/internal/config"
)

// GCSStore keeps blobs in Google Cloud Storage. Containers map to buckets.
type GCSStore struct {
	client    *gcs.Client
	projectID string
}

func NewGCSStore(ctx context.Context, cfg config.GCSConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, projectID: cfg.ProjectID}, nil
}

func (s *GCSStore) EnsureContainer(ctx context.Context, name string) error {
	bucket := s.client.Bucket(name)
	_, err := bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("failed to check bucket %s: %w", name, err)
	}
	if err := bucket.Create(ctx, s.projectID, nil); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	return nil
}

func (s *GCSStore) Put(ctx context.Context, container, name, contentType string, data []byte) (string, error) {
	w := s.client.Bucket(container).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object %s/%s: %w", container, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close object writer: %w", err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", container, name), nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
