// Package objstore is a filesystem-backed object store for uploaded files.
// It exposes only what the ingestion pipeline needs: put an object, and
// delete every object under a prefix.
package objstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Store struct {
	root string
}

// New creates the store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Put writes an object at the given slash-separated path.
func (s *Store) Put(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// Get reads an object back. Mostly useful in tests and future download
// endpoints.
func (s *Store) Get(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// DeletePrefix removes every object stored under the given path prefix.
// A missing prefix is not an error.
func (s *Store) DeletePrefix(prefix string) error {
	full, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("failed to delete objects under %s: %w", prefix, err)
	}
	return nil
}

// resolve maps an object path onto the filesystem and rejects paths that
// would escape the store root.
func (s *Store) resolve(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid object path: %q", path)
	}
	return filepath.Join(s.root, cleaned), nil
}
