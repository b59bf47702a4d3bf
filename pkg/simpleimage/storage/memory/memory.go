package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
)

// Operation names passed to a FailureFunc.
const (
	OpPut         = "put"
	OpGet         = "get"
	OpDelete      = "delete"
	OpDeleteMany  = "delete_many"
	OpListVersion = "list_versions"
	OpCopyVersion = "copy_version"
	OpPresign     = "presign"
)

// FailureFunc injects faults. It is called before every operation with the
// op name and key; a non-nil return fails that key. For OpDeleteMany the key
// is empty and a non-nil return fails the whole call.
type FailureFunc func(op, key string) error

type version struct {
	id       string
	data     []byte
	params   simpleimage.PutParams
	modified time.Time
}

// Backend is an in-memory implementation of the simpleimage.BlobStore
// interface. Every Put is kept as a version.
type Backend struct {
	mu       sync.RWMutex
	objects  map[string][]version // oldest first
	signer   *presigned.Signer
	failure  FailureFunc
	putCount int
	now      func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithSigner enables Presign using an HMAC signer.
func WithSigner(signer *presigned.Signer) Option {
	return func(b *Backend) {
		b.signer = signer
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		objects: make(map[string][]version),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ simpleimage.BlobStore = (*Backend)(nil)

// Name returns "memory".
func (b *Backend) Name() string {
	return "memory"
}

// SetFailure installs (or with nil clears) a fault injector.
func (b *Backend) SetFailure(fn FailureFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failure = fn
}

func (b *Backend) fail(op, key string) error {
	b.mu.RLock()
	fn := b.failure
	b.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(op, key)
}

func (b *Backend) storageError(op, key string, err error) error {
	return &simpleimage.StorageError{Backend: b.Name(), Key: key, Op: op, Err: err}
}

// Put stores body as the newest version of params.Key
func (b *Backend) Put(ctx context.Context, body io.Reader, params simpleimage.PutParams) error {
	if err := params.Validate(); err != nil {
		return b.storageError(OpPut, params.Key, err)
	}
	if err := b.fail(OpPut, params.Key); err != nil {
		return b.storageError(OpPut, params.Key, err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return b.storageError(OpPut, params.Key, err)
	}
	if err := ctx.Err(); err != nil {
		return b.storageError(OpPut, params.Key, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[params.Key] = append(b.objects[params.Key], version{
		id:       uuid.NewString(),
		data:     data,
		params:   params,
		modified: b.now(),
	})
	b.putCount++
	return nil
}

// Get returns the current version of key
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := b.fail(OpGet, key); err != nil {
		return nil, b.storageError(OpGet, key, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	versions, ok := b.objects[key]
	if !ok {
		return nil, b.storageError(OpGet, key, simpleimage.ErrObjectNotFound)
	}
	data := versions[len(versions)-1].data
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes key and all its versions. Missing keys are not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.fail(OpDelete, key); err != nil {
		return b.storageError(OpDelete, key, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

// DeleteMany removes keys, reporting the ones the fault injector rejects
func (b *Backend) DeleteMany(ctx context.Context, keys []string) ([]simpleimage.KeyFailure, error) {
	if err := b.fail(OpDeleteMany, ""); err != nil {
		return nil, b.storageError(OpDeleteMany, "", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, b.storageError(OpDeleteMany, "", err)
	}

	var failures []simpleimage.KeyFailure
	for _, key := range keys {
		if err := b.fail(OpDelete, key); err != nil {
			failures = append(failures, simpleimage.KeyFailure{Key: key, Code: "InjectedFailure", Message: err.Error()})
			continue
		}
		b.mu.Lock()
		delete(b.objects, key)
		b.mu.Unlock()
	}
	return failures, nil
}

// ListVersions returns the versions of key, newest first
func (b *Backend) ListVersions(ctx context.Context, key string) ([]simpleimage.ObjectVersion, error) {
	if err := b.fail(OpListVersion, key); err != nil {
		return nil, b.storageError(OpListVersion, key, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	versions := b.objects[key]
	out := make([]simpleimage.ObjectVersion, 0, len(versions))
	for i, v := range versions {
		out = append(out, simpleimage.ObjectVersion{
			Key:          key,
			VersionID:    v.id,
			IsLatest:     i == len(versions)-1,
			Size:         int64(len(v.data)),
			LastModified: v.modified,
		})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CopyVersion appends a copy of versionID as the newest version
func (b *Backend) CopyVersion(ctx context.Context, key, versionID string) error {
	if err := b.fail(OpCopyVersion, key); err != nil {
		return b.storageError(OpCopyVersion, key, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, v := range b.objects[key] {
		if v.id == versionID {
			b.objects[key] = append(b.objects[key], version{
				id:       uuid.NewString(),
				data:     v.data,
				params:   v.params,
				modified: b.now(),
			})
			return nil
		}
	}
	return b.storageError(OpCopyVersion, key, simpleimage.ErrVersionNotFound)
}

// Presign signs a download URL with the configured signer
func (b *Backend) Presign(ctx context.Context, key string, ttl time.Duration) (*simpleimage.PresignedURL, error) {
	if b.signer == nil {
		return nil, b.storageError(OpPresign, key, errors.New("no signer configured"))
	}
	if err := b.fail(OpPresign, key); err != nil {
		return nil, b.storageError(OpPresign, key, err)
	}
	url, expiresAt, err := b.signer.SignKey(key, ttl)
	if err != nil {
		return nil, b.storageError(OpPresign, key, err)
	}
	return &simpleimage.PresignedURL{URL: url, ExpiresAt: expiresAt}, nil
}

// Exists reports whether key has a current version.
func (b *Backend) Exists(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[key]
	return ok
}

// Keys returns all stored keys in sorted order.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Params returns the write directives of the current version of key.
func (b *Backend) Params(key string) (simpleimage.PutParams, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	versions, ok := b.objects[key]
	if !ok {
		return simpleimage.PutParams{}, false
	}
	return versions[len(versions)-1].params, true
}

// PutCount returns the number of successful writes.
func (b *Backend) PutCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.putCount
}
