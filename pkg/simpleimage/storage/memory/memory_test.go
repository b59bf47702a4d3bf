package memory_test

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
)

func putParams(key string) simpleimage.PutParams {
	return simpleimage.PutParams{
		Key:         key,
		ContentType: "text/plain",
		Access:      simpleimage.AccessPrivate,
		Encryption:  simpleimage.Encryption{Mode: simpleimage.EncryptionAES256},
	}
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestMemoryBackend(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()
	key := "images/abc/original"

	t.Run("Put and Get", func(t *testing.T) {
		require.NoError(t, backend.Put(ctx, strings.NewReader("hello"), putParams(key)))
		rc, err := backend.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "hello", readAll(t, rc))

		params, ok := backend.Params(key)
		require.True(t, ok)
		assert.Equal(t, simpleimage.AccessPrivate, params.Access)
		assert.Equal(t, simpleimage.EncryptionAES256, params.Encryption.Mode)
	})

	t.Run("Put rejects missing directives", func(t *testing.T) {
		params := putParams("images/abc/bad")
		params.Encryption = simpleimage.Encryption{}
		assert.Error(t, backend.Put(ctx, strings.NewReader("x"), params))

		params = putParams("images/abc/bad")
		params.Access = "public-read"
		assert.Error(t, backend.Put(ctx, strings.NewReader("x"), params))
		assert.False(t, backend.Exists("images/abc/bad"))
	})

	t.Run("Get missing", func(t *testing.T) {
		_, err := backend.Get(ctx, "missing")
		assert.ErrorIs(t, err, simpleimage.ErrObjectNotFound)
		var storageErr *simpleimage.StorageError
		require.ErrorAs(t, err, &storageErr)
		assert.Equal(t, "memory", storageErr.Backend)
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, key))
		require.NoError(t, backend.Delete(ctx, key))
		assert.False(t, backend.Exists(key))
	})
}

func TestMemoryDeleteMany(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, backend.Put(ctx, strings.NewReader(k), putParams(k)))
	}

	backend.SetFailure(func(op, key string) error {
		if op == memorystorage.OpDelete && key == "b" {
			return errors.New("access denied")
		}
		return nil
	})

	failures, err := backend.DeleteMany(ctx, []string{"a", "b", "c", "never-existed"})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "b", failures[0].Key)
	assert.Equal(t, []string{"b"}, backend.Keys())

	backend.SetFailure(func(op, key string) error {
		if op == memorystorage.OpDeleteMany {
			return errors.New("connection reset")
		}
		return nil
	})
	_, err = backend.DeleteMany(ctx, []string{"b"})
	assert.Error(t, err)
	assert.True(t, backend.Exists("b"))

	backend.SetFailure(nil)
	failures, err = backend.DeleteMany(ctx, []string{"b"})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Empty(t, backend.Keys())
}

func TestMemoryVersions(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()
	key := "images/abc/original"

	require.NoError(t, backend.Put(ctx, strings.NewReader("v1"), putParams(key)))
	require.NoError(t, backend.Put(ctx, strings.NewReader("v2"), putParams(key)))

	versions, err := backend.ListVersions(ctx, key)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].IsLatest)
	assert.False(t, versions[1].IsLatest)

	require.NoError(t, backend.CopyVersion(ctx, key, versions[1].VersionID))
	rc, err := backend.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v1", readAll(t, rc))

	versions, err = backend.ListVersions(ctx, key)
	require.NoError(t, err)
	assert.Len(t, versions, 3)

	err = backend.CopyVersion(ctx, key, "unknown")
	assert.ErrorIs(t, err, simpleimage.ErrVersionNotFound)
}

func TestMemoryPresign(t *testing.T) {
	ctx := context.Background()

	_, err := memorystorage.New().Presign(ctx, "k", time.Minute)
	assert.Error(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := presigned.New(presigned.WithSecretKey("secret"), presigned.WithClock(func() time.Time { return now }))
	backend := memorystorage.New(memorystorage.WithSigner(signer))

	signed, err := backend.Presign(ctx, "images/abc/original", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), signed.ExpiresAt)

	u, err := url.Parse(signed.URL)
	require.NoError(t, err)
	assert.Equal(t, "1740831000", u.Query().Get("expires"))
}
