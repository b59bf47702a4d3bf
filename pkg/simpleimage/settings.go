package simpleimage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Settings is the immutable configuration of the image service. It is
// copied into the service at construction.
type Settings struct {
	// KeyPrefix roots every physical key: {prefix}/{id}/original
	KeyPrefix string

	AllowedContentTypes []string
	MaxFileSize         int64

	// MaxPixels bounds width*height read from the header, since decoding
	// allocates per pixel regardless of the compressed size
	MaxPixels int64

	// RenditionSizes are the square bounding boxes renditions are fitted to
	RenditionSizes []int

	// Encryption is attached to every write
	Encryption Encryption

	// DefaultURLTTL applies when a caller asks for a signed URL without a
	// TTL. MaxURLTTL is the hard ceiling; larger requests are rejected.
	DefaultURLTTL time.Duration
	MaxURLTTL     time.Duration

	// PublicBaseURL prefixes rendition keys to form public URLs
	PublicBaseURL string

	// DeleteBatchSize bounds the keys sent in one bulk delete call
	DeleteBatchSize int

	// IngestTimeout bounds how long a synchronous Ingest waits. Zero waits
	// for completion.
	IngestTimeout time.Duration

	// RenditionConcurrency > 1 generates renditions of one image in parallel
	RenditionConcurrency int

	DefaultPageSize int
	MaxPageSize     int
}

// DefaultSettings returns the settings used when none are given
func DefaultSettings() Settings {
	return Settings{
		KeyPrefix:           "images",
		AllowedContentTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		MaxFileSize:         100 << 20,
		MaxPixels:           100_000_000,
		RenditionSizes:      []int{150, 300, 600},
		Encryption:          Encryption{Mode: EncryptionAES256},
		DefaultURLTTL:       5 * time.Minute,
		MaxURLTTL:           15 * time.Minute,
		PublicBaseURL:       "http://localhost:8080/public",
		DeleteBatchSize:     1000,
		DefaultPageSize:     20,
		MaxPageSize:         100,
	}
}

// Validate checks the settings for consistency
func (s Settings) Validate() error {
	var errs []error

	if len(s.AllowedContentTypes) == 0 {
		errs = append(errs, errors.New("at least one allowed content type is required"))
	}
	if s.MaxFileSize <= 0 {
		errs = append(errs, errors.New("max file size must be positive"))
	}
	if s.MaxPixels <= 0 {
		errs = append(errs, errors.New("max pixels must be positive"))
	}
	if len(s.RenditionSizes) == 0 {
		errs = append(errs, errors.New("at least one rendition size is required"))
	}
	seen := make(map[int]bool)
	for _, size := range s.RenditionSizes {
		if size <= 0 {
			errs = append(errs, fmt.Errorf("rendition size %d must be positive", size))
		}
		if seen[size] {
			errs = append(errs, fmt.Errorf("rendition size %d is listed twice", size))
		}
		seen[size] = true
	}
	switch s.Encryption.Mode {
	case EncryptionAES256, EncryptionKMS:
	default:
		errs = append(errs, fmt.Errorf("unsupported encryption mode %q", s.Encryption.Mode))
	}
	if s.MaxURLTTL <= 0 {
		errs = append(errs, errors.New("max URL TTL must be positive"))
	}
	if s.DefaultURLTTL <= 0 || s.DefaultURLTTL > s.MaxURLTTL {
		errs = append(errs, fmt.Errorf("default URL TTL %s must be within (0, %s]", s.DefaultURLTTL, s.MaxURLTTL))
	}
	if s.PublicBaseURL == "" {
		errs = append(errs, errors.New("public base URL is required"))
	}
	if s.DeleteBatchSize <= 0 || s.DeleteBatchSize > 1000 {
		errs = append(errs, fmt.Errorf("delete batch size %d must be within [1, 1000]", s.DeleteBatchSize))
	}
	if s.IngestTimeout < 0 {
		errs = append(errs, errors.New("ingest timeout cannot be negative"))
	}
	if s.DefaultPageSize <= 0 || s.DefaultPageSize > s.MaxPageSize {
		errs = append(errs, fmt.Errorf("default page size %d must be within [1, %d]", s.DefaultPageSize, s.MaxPageSize))
	}

	return errors.Join(errs...)
}

// normalized returns a copy with lower-cased content types, sorted sizes
// and no trailing slash on the public base URL.
func (s Settings) normalized() Settings {
	types := make([]string, len(s.AllowedContentTypes))
	for i, t := range s.AllowedContentTypes {
		types[i] = strings.ToLower(strings.TrimSpace(t))
	}
	s.AllowedContentTypes = types

	sizes := append([]int(nil), s.RenditionSizes...)
	sort.Ints(sizes)
	s.RenditionSizes = sizes

	s.PublicBaseURL = strings.TrimRight(s.PublicBaseURL, "/")
	return s
}

func (s Settings) allowsContentType(contentType string) bool {
	for _, t := range s.AllowedContentTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

func (s Settings) hasRenditionSize(size int) bool {
	for _, sz := range s.RenditionSizes {
		if sz == size {
			return true
		}
	}
	return false
}
