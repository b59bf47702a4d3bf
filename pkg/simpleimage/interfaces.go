package simpleimage

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for object storage backends. Stores never
// retry; retry policy belongs to callers.
type BlobStore interface {
	// Name identifies the backend in errors and logs
	Name() string

	// Put writes an object. params.Access must be AccessPrivate and
	// params.Encryption.Mode must be set.
	Put(ctx context.Context, body io.Reader, params PutParams) error

	// Get reads an object; missing keys return ErrObjectNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes one object; missing keys are not an error
	Delete(ctx context.Context, key string) error

	// DeleteMany removes keys in one remote call and returns the keys that
	// failed. Missing keys count as deleted. A non-nil error means the call
	// as a whole failed and no key is known to be removed.
	DeleteMany(ctx context.Context, keys []string) ([]KeyFailure, error)

	// ListVersions returns the versions of key, newest first
	ListVersions(ctx context.Context, key string) ([]ObjectVersion, error)

	// CopyVersion restores versionID of key as the current version
	CopyVersion(ctx context.Context, key, versionID string) error

	// Presign returns a GET URL for key valid for exactly ttl
	Presign(ctx context.Context, key string, ttl time.Duration) (*PresignedURL, error)
}

// Repository defines the interface for image metadata persistence.
// Writes to the same id are serialized by the implementation.
type Repository interface {
	// SaveImage inserts the record or fully updates its descriptive fields.
	// A stored terminal status is never overwritten by SaveImage.
	SaveImage(ctx context.Context, image *Image) error

	// UpdateImage rewrites the descriptive and file fields of an existing
	// record and never inserts. Unknown ids return ErrImageNotFound. The
	// stored status and timestamps are written back to image.
	UpdateImage(ctx context.Context, image *Image) error

	// GetImage returns ErrImageNotFound for unknown ids
	GetImage(ctx context.Context, id uuid.UUID) (*Image, error)

	// TransitionStatus moves a PROCESSING record to a terminal status. Repeating
	// the transition to the status already stored is a no-op; any other change
	// from a terminal status returns ErrInvalidStatusTransition.
	TransitionStatus(ctx context.Context, id uuid.UUID, to ImageStatus, reason string) (*Image, error)

	// DeleteImage removes the record; unknown ids return ErrImageNotFound
	DeleteImage(ctx context.Context, id uuid.UUID) error

	// SearchImages filters, sorts and pages records
	SearchImages(ctx context.Context, criteria SearchCriteria) (*Page, error)

	// ImageStatistics aggregates COMPLETED records
	ImageStatistics(ctx context.Context) (*Stats, error)
}

// RenditionGenerator produces derived images.
type RenditionGenerator interface {
	// Generate rescales original so the longer edge equals size (never
	// upscaling) and re-encodes it. Undecodable input wraps ErrInvalidImage.
	Generate(original []byte, size int) ([]byte, error)

	// Dimensions reads width and height from the image header only
	Dimensions(data []byte) (width, height int, err error)

	// ContentType is the MIME type of generated renditions
	ContentType() string
}

// EventSink receives image lifecycle notifications. Failures are logged by
// the service and never fail the operation.
type EventSink interface {
	ImageCreated(ctx context.Context, image *Image) error
	ImageStatusChanged(ctx context.Context, image *Image, from ImageStatus) error
	ImageDeleted(ctx context.Context, imageID uuid.UUID) error
}

// Observer receives timing and outcome measurements.
type Observer interface {
	ObserveIngestion(status ImageStatus, duration time.Duration)
	ObserveBlobOperation(op string, duration time.Duration, err error)
	ObserveDeletion(keys, failed int)
}

// Executor runs tasks off the calling goroutine. The returned channel is
// closed when the task finishes; submitters are free to ignore it.
type Executor interface {
	Submit(task func(ctx context.Context)) (<-chan struct{}, error)
}
