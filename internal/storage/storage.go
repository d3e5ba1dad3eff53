// Package storage resolves output and input targets to a blob store: gs://
// URIs go to Google Cloud Storage, memory:// stays in process, and anything
// else is a path on the local filesystem.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	gcstorage "cloud.google.com/go/storage"

	"github.com/JakeFAU/robots-history/internal/storage/gcs"
	"github.com/JakeFAU/robots-history/internal/storage/local"
	"github.com/JakeFAU/robots-history/internal/storage/memory"
)

// ObjectStore is a blob store that can also read back what it holds.
type ObjectStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Scheme identifies the backend for a target.
type Scheme string

// Supported target schemes.
const (
	SchemeLocal  Scheme = "file"
	SchemeGCS    Scheme = "gs"
	SchemeMemory Scheme = "memory"
)

// Target is a parsed output/input location.
type Target struct {
	Scheme Scheme
	// Root is the bucket for GCS, the directory for local files, and empty
	// for memory.
	Root string
	// Key is the object path relative to Root.
	Key string
}

// ParseTarget splits a target string into backend, root and key.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("target is required")
	}
	switch {
	case strings.HasPrefix(raw, "gs://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(raw, "gs://"), "/")
		if !ok || bucket == "" || key == "" {
			return Target{}, fmt.Errorf("gcs target %q must look like gs://bucket/object", raw)
		}
		return Target{Scheme: SchemeGCS, Root: bucket, Key: key}, nil
	case strings.HasPrefix(raw, "memory://"):
		key := strings.TrimPrefix(raw, "memory://")
		if key == "" {
			return Target{}, fmt.Errorf("memory target %q has no object name", raw)
		}
		return Target{Scheme: SchemeMemory, Key: key}, nil
	default:
		path := strings.TrimPrefix(raw, "file://")
		if strings.HasSuffix(path, "/") {
			return Target{}, fmt.Errorf("local target %q is a directory", raw)
		}
		return Target{Scheme: SchemeLocal, Root: filepath.Dir(path), Key: filepath.Base(path)}, nil
	}
}

// IsSQLite reports whether target names a SQLite database file.
func IsSQLite(target string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(target)))
	return ext == ".db" || ext == ".sqlite" || ext == ".sqlite3"
}

// Handle is an opened store plus the key a target refers to within it.
type Handle struct {
	Store ObjectStore
	Key   string
	close func() error
}

// Close releases backend clients.
func (h *Handle) Close() error {
	if h == nil || h.close == nil {
		return nil
	}
	return h.close()
}

// Open returns a store for target. GCS clients use Application Default
// Credentials.
func Open(ctx context.Context, raw string) (*Handle, error) {
	t, err := ParseTarget(raw)
	if err != nil {
		return nil, err
	}
	switch t.Scheme {
	case SchemeGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: t.Root})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return &Handle{Store: store, Key: t.Key, close: client.Close}, nil
	case SchemeMemory:
		return &Handle{Store: memory.NewBlobStore(), Key: t.Key}, nil
	default:
		store, err := local.New(local.Config{BaseDir: t.Root})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return &Handle{Store: store, Key: t.Key}, nil
	}
}
