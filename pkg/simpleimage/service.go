package simpleimage

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the main interface for the simple-image library
type Service interface {
	// Ingestion
	Ingest(ctx context.Context, req IngestRequest) (*Image, error)
	GetImage(ctx context.Context, id uuid.UUID) (*Image, error)
	GetStatus(ctx context.Context, id uuid.UUID) (ImageStatus, error)
	UpdateImage(ctx context.Context, req UpdateImageRequest) (*Image, error)

	// Listing
	SearchImages(ctx context.Context, req SearchRequest) (*Page, error)
	ListOwnedImages(ctx context.Context, owner string, req SearchRequest) (*Page, error)
	Statistics(ctx context.Context) (*Stats, error)

	// URLs
	ResolveURL(ctx context.Context, req URLRequest) (*ResolvedURL, error)
	Renditions() []RenditionDescriptor

	// Deletion
	DeleteImage(ctx context.Context, id uuid.UUID, opts DeleteOptions) error
	DeleteImages(ctx context.Context, ids []uuid.UUID, opts DeleteOptions) (*DeletionReport, error)

	// Versions of the original object
	ListVersions(ctx context.Context, id uuid.UUID) ([]ObjectVersion, error)
	RestoreVersion(ctx context.Context, id uuid.UUID, versionID string) (*Image, error)

	// Close waits for in-flight asynchronous ingestions
	Close(ctx context.Context) error
}
