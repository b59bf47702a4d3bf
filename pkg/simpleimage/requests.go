package simpleimage

import (
	"time"

	"github.com/google/uuid"
)

// IngestRequest contains the parameters for ingesting an image
type IngestRequest struct {
	Data        []byte
	ContentType string
	Title       string
	Description string
	Tags        []string
	UploadedBy  string

	// Async returns as soon as the PROCESSING record exists; uploads and
	// renditions continue on the worker pool.
	Async bool
}

// UpdateImageRequest contains the parameters for updating descriptive
// fields. Nil fields are left unchanged; a non-nil empty Tags clears them.
type UpdateImageRequest struct {
	ID          uuid.UUID
	Title       *string
	Description *string
	Tags        []string
	ClearTags   bool
}

// SearchRequest contains the parameters for listing images
type SearchRequest struct {
	Title       string
	ContentType string
	Tag         string
	SortBy      SortField
	SortDesc    bool
	Limit       int
	Offset      int

	// Statuses is honored by ListOwnedImages only; public search always
	// returns COMPLETED records.
	Statuses []ImageStatus
}

// URLRequest selects the object to resolve a URL for. Size 0 means the
// original, which is served by a signed URL valid for TTL (0 for the
// default). Any other size names a rendition, served by a public URL.
type URLRequest struct {
	ImageID uuid.UUID
	Size    int
	TTL     time.Duration
}

// DeleteOptions tunes deletion
type DeleteOptions struct {
	// Force deletes records that are still PROCESSING
	Force bool
}
