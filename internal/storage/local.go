package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// LocalStore keeps blobs in a directory tree, one directory per container
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) EnsureContainer(_ context.Context, name string) error {
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create container directory %s: %w", dir, err)
	}
	return nil
}

func (s *LocalStore) Put(ctx context.Context, container, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.root, container, filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve blob path: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func (s *LocalStore) Close() error { return nil }
