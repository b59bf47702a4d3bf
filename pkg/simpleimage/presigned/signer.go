// Package presigned signs and validates HMAC download URLs for blob stores
// that have no native presigning (the local filesystem and in-memory
// stores).
//
// A signed URL carries two query parameters:
//
//	/files/images/{id}/original?expires=1696789012&signature=ab12...
//
// The signature is HMAC-SHA256 over "METHOD|PATH|EXPIRES".
package presigned

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer generates and validates HMAC-signed presigned URLs
type Signer struct {
	secretKey         []byte
	defaultExpiration time.Duration
	baseURL           string
	urlPattern        string // e.g. "/files/{key}"
	now               func() time.Time
}

// New creates a new Signer with the given options
func New(opts ...Option) *Signer {
	s := &Signer{
		defaultExpiration: 5 * time.Minute,
		urlPattern:        "/files/{key}",
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SignKey returns a GET URL for an object key that expires after ttl.
func (s *Signer) SignKey(key string, ttl time.Duration) (string, time.Time, error) {
	path, err := s.PathForKey(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.SignURL(http.MethodGet, path, ttl)
}

// SignURL signs method and path. A zero ttl uses the default expiration.
// The returned URL is prefixed with the configured base URL. Expiry has
// one-second granularity and is rounded up, so a URL never expires before
// ttl has elapsed.
func (s *Signer) SignURL(method, path string, ttl time.Duration) (string, time.Time, error) {
	if len(s.secretKey) == 0 {
		return "", time.Time{}, ErrNoSecretKey
	}
	if ttl == 0 {
		ttl = s.defaultExpiration
	}
	if ttl < 0 {
		return "", time.Time{}, fmt.Errorf("presigned: negative expiration %s", ttl)
	}

	exact := s.now().Add(ttl)
	expiresAt := exact.Truncate(time.Second)
	if expiresAt.Before(exact) {
		expiresAt = expiresAt.Add(time.Second)
	}
	signature := s.generateSignature(s.createPayload(method, path, expiresAt.Unix()))

	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	signed := fmt.Sprintf("%s%s%sexpires=%d&signature=%s",
		s.baseURL, path, separator, expiresAt.Unix(), signature)

	return signed, expiresAt, nil
}

// PathForKey expands the URL pattern for key. Each key segment is escaped.
func (s *Signer) PathForKey(key string) (string, error) {
	if !strings.Contains(s.urlPattern, "{key}") {
		return "", fmt.Errorf("presigned: URL pattern %q does not contain {key} placeholder", s.urlPattern)
	}
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Replace(s.urlPattern, "{key}", strings.Join(segments, "/"), 1), nil
}

// ValidateRequest validates the signature and expiration of an HTTP request
func (s *Signer) ValidateRequest(r *http.Request) error {
	if len(s.secretKey) == 0 {
		return ErrNoSecretKey
	}

	query := r.URL.Query()
	signature := query.Get("signature")
	expiresStr := query.Get("expires")

	if signature == "" {
		return ErrMissingSignature
	}
	if expiresStr == "" {
		return ErrMissingExpiration
	}

	expiresAt, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}

	path := r.URL.EscapedPath()
	cleanQuery := url.Values{}
	for k, v := range query {
		if k != "signature" && k != "expires" {
			cleanQuery[k] = v
		}
	}
	if len(cleanQuery) > 0 {
		path = path + "?" + cleanQuery.Encode()
	}

	return s.Validate(r.Method, path, signature, expiresAt)
}

// Validate checks the expiration and signature for a method and path
func (s *Signer) Validate(method, path, signature string, expiresAt int64) error {
	if s.now().Unix() > expiresAt {
		return ErrExpired
	}

	expected := s.generateSignature(s.createPayload(method, path, expiresAt))

	// constant time
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// ExtractObjectKey extracts the object key from a URL path based on the
// configured URL pattern
func (s *Signer) ExtractObjectKey(path string) (string, error) {
	idx := strings.Index(s.urlPattern, "{key}")
	if idx == -1 {
		return "", fmt.Errorf("presigned: URL pattern %q does not contain {key} placeholder", s.urlPattern)
	}

	prefix := s.urlPattern[:idx]
	suffix := s.urlPattern[idx+len("{key}"):]

	if !strings.HasPrefix(path, prefix) {
		return "", fmt.Errorf("presigned: path %q does not match URL pattern", path)
	}
	key := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if key == "" {
		return "", fmt.Errorf("presigned: empty object key in %q", path)
	}
	return url.PathUnescape(key)
}

// IsEnabled returns true if a secret key is set
func (s *Signer) IsEnabled() bool {
	return len(s.secretKey) > 0
}

func (s *Signer) createPayload(method, path string, expiresAt int64) string {
	return fmt.Sprintf("%s|%s|%d", method, path, expiresAt)
}

func (s *Signer) generateSignature(payload string) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
