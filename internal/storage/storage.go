// Package storage uploads finished recordings to a blob store and records
// their metadata in a table store.
package storage

import (
	"context"
	"fmt"

	"github.com/audiolibrelab/micnote/internal/config"
	"github.com/audiolibrelab/micnote/internal/session"
)

// BlobStore holds the audio files
type BlobStore interface {
	// EnsureContainer creates the container if it does not exist
	EnsureContainer(ctx context.Context, name string) error
	// Put stores data and returns the URI it is reachable at
	Put(ctx context.Context, container, name, contentType string, data []byte) (string, error)
	Close() error
}

// MetadataStore holds one record per uploaded file
type MetadataStore interface {
	EnsureTable(ctx context.Context, name string) error
	Save(ctx context.Context, table string, record *session.UploadRecord) error
	Close() error
}

// NewBlobStore creates the blob store selected by cfg.Backend
func NewBlobStore(ctx context.Context, cfg config.StorageConfig) (BlobStore, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocalStore(cfg.Local.Directory), nil
	case "s3":
		s, err := NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "gcs":
		s, err := NewGCSStore(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// NewMetadataStore creates the metadata store selected by cfg.Backend. It
// returns nil for the "none" backend.
func NewMetadataStore(cfg config.MetadataConfig) (MetadataStore, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil
	case "sqlite", "mysql":
		s, err := NewGormStore(cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "http":
		c, err := NewNoteServiceClient(cfg.URL)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown metadata backend: %s", cfg.Backend)
	}
}
