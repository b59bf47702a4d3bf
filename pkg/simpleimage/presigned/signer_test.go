package presigned

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSignKeyEmbedsExpiry(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	signer := New(WithSecretKey("test-secret-key-of-reasonable-size"), WithClock(fixedClock(now)))

	signed, expiresAt, err := signer.SignKey("images/abc/original", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), expiresAt)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "/files/images/abc/original", u.Path)
	assert.Equal(t, strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10), u.Query().Get("expires"))
	assert.NotEmpty(t, u.Query().Get("signature"))
}

func TestSignURLRoundsExpiryUp(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"whole second", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), time.Date(2025, 1, 2, 3, 9, 5, 0, time.UTC)},
		{"just after a second", time.Date(2025, 1, 2, 3, 4, 5, 1, time.UTC), time.Date(2025, 1, 2, 3, 9, 6, 0, time.UTC)},
		{"just before a second", time.Date(2025, 1, 2, 3, 4, 5, 999_999_999, time.UTC), time.Date(2025, 1, 2, 3, 9, 6, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := New(WithSecretKey("k"), WithClock(fixedClock(tt.now)))
			signed, expiresAt, err := signer.SignURL(http.MethodGet, "/files/a", 5*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expiresAt)
			assert.False(t, expiresAt.Before(tt.now.Add(5*time.Minute)))

			u, err := url.Parse(signed)
			require.NoError(t, err)
			assert.Equal(t, strconv.FormatInt(tt.want.Unix(), 10), u.Query().Get("expires"))
		})
	}
}

func TestSignURLDefaults(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	signer := New(WithSecretKey("k"), WithClock(fixedClock(now)), WithDefaultExpiration(time.Minute))

	_, expiresAt, err := signer.SignURL(http.MethodGet, "/files/a", 0)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), expiresAt)

	_, _, err = signer.SignURL(http.MethodGet, "/files/a", -time.Second)
	assert.Error(t, err)

	_, _, err = New().SignURL(http.MethodGet, "/files/a", time.Minute)
	assert.ErrorIs(t, err, ErrNoSecretKey)
}

func TestValidateRequest(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := now
	signer := New(WithSecretKey("secret"), WithClock(func() time.Time { return clock }))

	signed, _, err := signer.SignKey("images/abc/thumbnail_150", time.Minute)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, signed, nil)
		assert.NoError(t, signer.ValidateRequest(req))
	})

	t.Run("tampered path", func(t *testing.T) {
		u, _ := url.Parse(signed)
		u.Path = "/files/images/other/original"
		req := httptest.NewRequest(http.MethodGet, u.String(), nil)
		assert.ErrorIs(t, signer.ValidateRequest(req), ErrInvalidSignature)
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, signed, nil)
		assert.ErrorIs(t, signer.ValidateRequest(req), ErrInvalidSignature)
	})

	t.Run("missing params", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/files/images/abc/original", nil)
		assert.ErrorIs(t, signer.ValidateRequest(req), ErrMissingSignature)

		req = httptest.NewRequest(http.MethodGet, "/files/images/abc/original?signature=x", nil)
		assert.ErrorIs(t, signer.ValidateRequest(req), ErrMissingExpiration)

		req = httptest.NewRequest(http.MethodGet, "/files/images/abc/original?signature=x&expires=soon", nil)
		assert.ErrorIs(t, signer.ValidateRequest(req), ErrInvalidExpiration)
	})

	t.Run("expired", func(t *testing.T) {
		clock = now.Add(2 * time.Minute)
		defer func() { clock = now }()
		req := httptest.NewRequest(http.MethodGet, signed, nil)
		err := signer.ValidateRequest(req)
		assert.ErrorIs(t, err, ErrExpired)
		assert.True(t, IsAuthError(err))
	})
}

func TestExtractObjectKey(t *testing.T) {
	signer := New(WithURLPattern("/api/v1/blobs/{key}"))

	key, err := signer.ExtractObjectKey("/api/v1/blobs/images/abc/original")
	require.NoError(t, err)
	assert.Equal(t, "images/abc/original", key)

	_, err = signer.ExtractObjectKey("/other/images/abc")
	assert.Error(t, err)

	_, err = signer.ExtractObjectKey("/api/v1/blobs/")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	signer := New(WithSecretKey("secret"))

	var gotKey string
	handler := Middleware(signer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = ObjectKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	signed, _, err := signer.SignKey("images/abc/original", time.Minute)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, signed, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "images/abc/original", gotKey)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/images/abc/original", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, signed+"x", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
