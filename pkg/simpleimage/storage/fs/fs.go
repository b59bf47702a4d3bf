package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
)

// Backend is a filesystem implementation of the simpleimage.BlobStore
// interface, meant for local development. It keeps one version per key and
// cannot encrypt; the encryption directive is validated and ignored.
type Backend struct {
	baseDir string
	signer  *presigned.Signer
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string            // Base directory for storing files
	Signer  *presigned.Signer // Optional signer for Presign
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	abs, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	return &Backend{baseDir: abs, signer: config.Signer}, nil
}

var _ simpleimage.BlobStore = (*Backend)(nil)

// Name returns "fs".
func (b *Backend) Name() string {
	return "fs"
}

func (b *Backend) storageError(op, key string, err error) error {
	return &simpleimage.StorageError{Backend: b.Name(), Key: key, Op: op, Err: err}
}

// path maps a key into baseDir and refuses keys that escape it.
func (b *Backend) path(key string) (string, error) {
	if key == "" {
		return "", errors.New("empty object key")
	}
	p := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if p != b.baseDir && !strings.HasPrefix(p, b.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes base directory", key)
	}
	return p, nil
}

// Put writes body to a temporary file and renames it into place
func (b *Backend) Put(ctx context.Context, body io.Reader, params simpleimage.PutParams) error {
	if err := params.Validate(); err != nil {
		return b.storageError("put", params.Key, err)
	}
	filePath, err := b.path(params.Key)
	if err != nil {
		return b.storageError("put", params.Key, err)
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return b.storageError("put", params.Key, fmt.Errorf("failed to create directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return b.storageError("put", params.Key, fmt.Errorf("failed to create file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return b.storageError("put", params.Key, fmt.Errorf("failed to write file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return b.storageError("put", params.Key, err)
	}
	if err := ctx.Err(); err != nil {
		return b.storageError("put", params.Key, err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return b.storageError("put", params.Key, fmt.Errorf("failed to move file into place: %w", err))
	}
	return nil
}

// Get opens the file for key
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, b.storageError("get", key, err)
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, b.storageError("get", key, simpleimage.ErrObjectNotFound)
	} else if err != nil {
		return nil, b.storageError("get", key, fmt.Errorf("failed to open file: %w", err))
	}
	return file, nil
}

// Delete removes the file for key; missing files are not an error
func (b *Backend) Delete(ctx context.Context, key string) error {
	filePath, err := b.path(key)
	if err != nil {
		return b.storageError("delete", key, err)
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return b.storageError("delete", key, fmt.Errorf("failed to delete file: %w", err))
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// DeleteMany deletes keys one by one and collects failures
func (b *Backend) DeleteMany(ctx context.Context, keys []string) ([]simpleimage.KeyFailure, error) {
	if err := ctx.Err(); err != nil {
		return nil, b.storageError("delete_many", "", err)
	}
	var failures []simpleimage.KeyFailure
	for _, key := range keys {
		if err := b.Delete(ctx, key); err != nil {
			failures = append(failures, simpleimage.KeyFailure{Key: key, Message: err.Error()})
		}
	}
	return failures, nil
}

// ListVersions is not supported on the filesystem
func (b *Backend) ListVersions(ctx context.Context, key string) ([]simpleimage.ObjectVersion, error) {
	return nil, b.storageError("list_versions", key, simpleimage.ErrVersioningUnsupported)
}

// CopyVersion is not supported on the filesystem
func (b *Backend) CopyVersion(ctx context.Context, key, versionID string) error {
	return b.storageError("copy_version", key, simpleimage.ErrVersioningUnsupported)
}

// Presign returns a URL served by the presigned middleware
func (b *Backend) Presign(ctx context.Context, key string, ttl time.Duration) (*simpleimage.PresignedURL, error) {
	if b.signer == nil {
		return nil, b.storageError("presign", key, errors.New("no signer configured"))
	}
	url, expiresAt, err := b.signer.SignKey(key, ttl)
	if err != nil {
		return nil, b.storageError("presign", key, err)
	}
	return &simpleimage.PresignedURL{URL: url, ExpiresAt: expiresAt}, nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
