package simpleimage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrValidation marks synchronous input rejections; nothing was persisted.
	ErrValidation = errors.New("validation failed")

	// ErrImageNotFound indicates no metadata record exists for the id
	ErrImageNotFound = errors.New("image not found")

	// ErrObjectNotFound indicates a blob key does not exist in the store
	ErrObjectNotFound = errors.New("object not found")

	// ErrVersionNotFound indicates an unknown version id for a restore
	ErrVersionNotFound = errors.New("object version not found")

	// ErrVersioningUnsupported is returned by stores that keep a single version
	ErrVersioningUnsupported = errors.New("object versioning not supported by this backend")

	// ErrInvalidImage indicates the payload does not decode as a raster image
	ErrInvalidImage = errors.New("invalid image")

	// ErrInvalidStatusTransition indicates an attempt to leave a terminal status
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrImageNotReady indicates the image has not reached COMPLETED
	ErrImageNotReady = errors.New("image not ready")

	// ErrImageBeingProcessed indicates the image is still PROCESSING
	ErrImageBeingProcessed = errors.New("image is being processed")

	// ErrExpiryOutOfRange indicates a requested URL TTL outside (0, ceiling]
	ErrExpiryOutOfRange = errors.New("requested expiry out of range")

	// ErrRenditionNotSignable indicates a signed URL was requested for a rendition
	ErrRenditionNotSignable = errors.New("renditions are served by public URL and cannot be signed")

	// ErrIngestTimeout indicates the caller stopped waiting; ingestion continues
	ErrIngestTimeout = errors.New("ingestion still in progress")

	// ErrPartialFailure indicates a batch operation left some items behind
	ErrPartialFailure = errors.New("partial failure")
)

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StorageError represents an error related to blob store operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IngestionError reports a failure after the record was created. The record
// with ImageID exists and has been moved to FAILED.
type IngestionError struct {
	ImageID uuid.UUID
	Stage   string
	Err     error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion of image %s failed at %s: %v", e.ImageID, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// PartialFailureError wraps a deletion report with at least one failure.
type PartialFailureError struct {
	Report *DeletionReport
}

func (e *PartialFailureError) Error() string {
	keys := e.Report.FailedKeys()
	ids := e.Report.FailedImageIDs()
	if len(keys) == 0 {
		return fmt.Sprintf("partial failure: %d image(s) not deleted", len(ids))
	}
	return fmt.Sprintf("partial failure: %d image(s) not deleted, failed keys: %s", len(ids), strings.Join(keys, ", "))
}

func (e *PartialFailureError) Unwrap() error {
	return ErrPartialFailure
}

// IsValidation reports whether err is a synchronous validation rejection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err names an unknown image, object, or version.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrImageNotFound) ||
		errors.Is(err, ErrObjectNotFound) ||
		errors.Is(err, ErrVersionNotFound)
}

// WasCreated reports whether an ingest error left a record behind.
// Validation errors never do; ingestion failures and timeouts always do.
func WasCreated(err error) bool {
	var ingestErr *IngestionError
	return errors.As(err, &ingestErr) || errors.Is(err, ErrIngestTimeout)
}
