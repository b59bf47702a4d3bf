package simpleimage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ImageStatus is the lifecycle state of an image record.
type ImageStatus string

// Image status constants. PROCESSING is the only non-terminal state.
const (
	StatusProcessing ImageStatus = "PROCESSING"
	StatusCompleted  ImageStatus = "COMPLETED"
	StatusFailed     ImageStatus = "FAILED"
)

// IsTerminal reports whether no automatic transition leaves this status.
func (s ImageStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s ImageStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Field limits for descriptive metadata.
const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 1000
	MaxTagLength         = 50
	MaxTags              = 20
)

// Image is the metadata record kept for one logical image.
type Image struct {
	ID            uuid.UUID   `json:"id"`
	Title         string      `json:"title,omitempty"`
	Description   string      `json:"description,omitempty"`
	Tags          []string    `json:"tags,omitempty"`
	ContentType   string      `json:"content_type"`
	FileSizeBytes int64       `json:"file_size_bytes"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	PhysicalKey   string      `json:"physical_key"`
	UploadedBy    string      `json:"uploaded_by"`
	Status        ImageStatus `json:"status"`
	FailureReason string      `json:"failure_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the tag slice.
func (i *Image) Clone() *Image {
	if i == nil {
		return nil
	}
	c := *i
	if i.Tags != nil {
		c.Tags = append([]string(nil), i.Tags...)
	}
	return &c
}

// HasTag reports whether the record carries tag.
func (i *Image) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RenditionDescriptor describes one configured derived size.
type RenditionDescriptor struct {
	Size        int    `json:"size"`
	Format      string `json:"format"`
	ContentType string `json:"content_type"`
}

// Encryption modes accepted by blob stores.
type EncryptionMode string

const (
	EncryptionAES256 EncryptionMode = "AES256"
	EncryptionKMS    EncryptionMode = "aws:kms"
)

// Encryption is the server-side encryption directive attached to every write.
type Encryption struct {
	Mode     EncryptionMode
	KMSKeyID string
}

// AccessPolicy is the access-control directive attached to every write.
// Only private writes exist; public-write is never requested.
type AccessPolicy string

const AccessPrivate AccessPolicy = "private"

// PutParams describes a single object write.
type PutParams struct {
	Key         string
	Size        int64
	ContentType string
	Access      AccessPolicy
	Encryption  Encryption
}

// ObjectVersion describes one stored version of an object.
type ObjectVersion struct {
	Key          string    `json:"key"`
	VersionID    string    `json:"version_id"`
	IsLatest     bool      `json:"is_latest"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// KeyFailure reports one key a bulk delete could not remove.
type KeyFailure struct {
	Key     string `json:"key"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PresignedURL is a signed, time-bounded URL.
type PresignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// SortField names the columns search results may be ordered by.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
	SortByTitle     SortField = "title"
	SortByFileSize  SortField = "file_size_bytes"
)

// Valid reports whether f is a supported sort column.
func (f SortField) Valid() bool {
	switch f {
	case SortByCreatedAt, SortByUpdatedAt, SortByTitle, SortByFileSize:
		return true
	}
	return false
}

// SearchCriteria is the repository-level search predicate.
type SearchCriteria struct {
	Title       string
	ContentType string
	Tag         string
	UploadedBy  string
	Statuses    []ImageStatus
	SortBy      SortField
	SortDesc    bool
	Limit       int
	Offset      int
}

// Page is one page of search results.
type Page struct {
	Items  []*Image `json:"items"`
	Total  int64    `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Stats aggregates file sizes over completed images.
type Stats struct {
	Count          int64   `json:"count"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	AverageBytes   float64 `json:"average_size_bytes"`
}

// DeletionReport summarises a batch delete.
type DeletionReport struct {
	Deleted  []uuid.UUID       `json:"deleted"`
	Failures []DeletionFailure `json:"failures,omitempty"`
}

// DeletionFailure names one image that could not be fully deleted.
// Key is empty when the failure concerns the metadata record itself.
type DeletionFailure struct {
	ImageID uuid.UUID `json:"image_id"`
	Key     string    `json:"key,omitempty"`
	Reason  string    `json:"reason"`
}

// FailedImageIDs returns the distinct ids present in Failures.
func (r *DeletionReport) FailedImageIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, f := range r.Failures {
		if !seen[f.ImageID] {
			seen[f.ImageID] = true
			ids = append(ids, f.ImageID)
		}
	}
	return ids
}

// FailedKeys returns the physical keys that failed to delete.
func (r *DeletionReport) FailedKeys() []string {
	var keys []string
	for _, f := range r.Failures {
		if f.Key != "" {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// ResolvedURL is the result of URL resolution.
type ResolvedURL struct {
	URL       string     `json:"url"`
	Signed    bool       `json:"signed"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Validate checks the directives every write must carry.
func (p PutParams) Validate() error {
	if p.Key == "" {
		return errors.New("object key is required")
	}
	if p.Access != AccessPrivate {
		return fmt.Errorf("unsupported access policy %q: writes must be private", p.Access)
	}
	switch p.Encryption.Mode {
	case EncryptionAES256, EncryptionKMS:
	default:
		return fmt.Errorf("unsupported encryption mode %q", p.Encryption.Mode)
	}
	return nil
}
