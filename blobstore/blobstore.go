// CLAUDE:SUMMARY Opaque key-value byte store collaborator: interface plus filesystem implementation.
// Package blobstore is the byte-store collaborator: an opaque,
// content-addressed-by-key binary store. The production deployment points
// this at an object store; the bundled filesystem implementation serves
// single-node setups and tests.
//
// Binary integrity is the one hard requirement: bytes come back exactly as
// they went in, and uploads carry an explicit binary content type.
package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ContentTypeBinary is the content type used for database file uploads.
const ContentTypeBinary = "application/octet-stream"

// ContentTypeJSON is the content type used for metadata documents.
const ContentTypeJSON = "application/json"

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blobstore: key not found")

// Entry is one stored object.
type Entry struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// Store is the byte-store contract consumed by horosheet.
type Store interface {
	// Upload stores data under key with the given content type.
	Upload(ctx context.Context, key string, data []byte, contentType string) error

	// Download returns the bytes stored under key, or ErrNotFound.
	Download(ctx context.Context, key string) ([]byte, error)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys []string) error

	// List returns all entries whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// FSStore implements Store on a local directory. Keys map to file paths
// under the root; a sidecar ".meta" file records the content type.
type FSStore struct {
	root   string
	logger *slog.Logger
}

// NewFSStore creates a filesystem store rooted at dir, creating it if
// needed.
func NewFSStore(dir string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: mkdir root: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("blobstore: resolve root: %w", err)
	}
	return &FSStore{root: abs, logger: logger}, nil
}

// keyPath validates key and maps it under the root. Keys use "/" separators
// and must not escape the root.
func (s *FSStore) keyPath(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("blobstore: invalid key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

type objectMeta struct {
	ContentType string `json:"content_type"`
}

func (s *FSStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("blobstore: mkdir: %w", err)
	}

	// Write-then-rename so a crashed upload never leaves a torn object.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("blobstore: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("blobstore: rename %s: %w", key, err)
	}

	meta, _ := json.Marshal(objectMeta{ContentType: contentType})
	if err := os.WriteFile(path+".meta", meta, 0o644); err != nil {
		s.logger.Warn("blobstore: write meta", "key", key, "error", err)
	}
	return nil
}

func (s *FSStore) Download(ctx context.Context, key string) ([]byte, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, keys []string) error {
	for _, key := range keys {
		path, err := s.keyPath(key)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("blobstore: delete %s: %w", key, err)
		}
		if err := os.Remove(path + ".meta"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("blobstore: delete meta", "key", key, "error", err)
		}
	}
	return nil
}

func (s *FSStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(path, ".meta") || strings.HasSuffix(path, ".tmp") {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: list %q: %w", prefix, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
