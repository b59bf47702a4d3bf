package simpleimage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-image/pkg/simpleimage/objectkey"
	"github.com/tendant/simple-image/pkg/simpleimage/worker"
)

// service implements the Service interface
type service struct {
	repository Repository
	blobStore  BlobStore
	generator  RenditionGenerator
	executor   Executor
	ownsPool   *worker.Pool
	eventSink  EventSink
	observer   Observer
	logger     *slog.Logger
	settings   Settings
	keys       *objectkey.Generator
	now        func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the object store holding originals and renditions
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithRenditionGenerator sets the rendition generator
func WithRenditionGenerator(gen RenditionGenerator) Option {
	return func(s *service) {
		s.generator = gen
	}
}

// WithExecutor sets the executor for asynchronous ingestion. Without one
// the service starts its own worker pool and closes it in Close.
func WithExecutor(executor Executor) Option {
	return func(s *service) {
		s.executor = executor
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithObserver sets the metrics observer
func WithObserver(observer Observer) Option {
	return func(s *service) {
		s.observer = observer
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithSettings replaces DefaultSettings
func WithSettings(settings Settings) Option {
	return func(s *service) {
		s.settings = settings
	}
}

// WithClock replaces time.Now for timing measurements
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		settings: DefaultSettings(),
		now:      time.Now,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.generator == nil {
		return nil, fmt.Errorf("rendition generator is required")
	}
	if err := s.settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	s.settings = s.settings.normalized()
	s.keys = objectkey.New(s.settings.KeyPrefix)

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.observer == nil {
		s.observer = NewNoopObserver()
	}
	if s.executor == nil {
		cfg := worker.DefaultConfig()
		cfg.Logger = s.logger
		s.ownsPool = worker.New(cfg)
		s.executor = s.ownsPool
	}

	return s, nil
}

func (s *service) GetImage(ctx context.Context, id uuid.UUID) (*Image, error) {
	image, err := s.repository.GetImage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get image %s: %w", id, err)
	}
	return image, nil
}

func (s *service) GetStatus(ctx context.Context, id uuid.UUID) (ImageStatus, error) {
	image, err := s.GetImage(ctx, id)
	if err != nil {
		return "", err
	}
	return image.Status, nil
}

// UpdateImage changes descriptive fields only. The repository update never
// inserts, so an image deleted after the read stays deleted.
func (s *service) UpdateImage(ctx context.Context, req UpdateImageRequest) (*Image, error) {
	var title, description string
	if req.Title != nil {
		title = *req.Title
	}
	if req.Description != nil {
		description = *req.Description
	}
	tags, err := validateDescriptive(title, description, req.Tags)
	if err != nil {
		return nil, err
	}

	image, err := s.GetImage(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		image.Title = title
	}
	if req.Description != nil {
		image.Description = description
	}
	switch {
	case req.ClearTags:
		image.Tags = nil
	case req.Tags != nil:
		image.Tags = tags
	}

	if err := s.repository.UpdateImage(ctx, image); err != nil {
		return nil, fmt.Errorf("failed to update image %s: %w", req.ID, err)
	}
	return image, nil
}

// SearchImages returns COMPLETED images only
func (s *service) SearchImages(ctx context.Context, req SearchRequest) (*Page, error) {
	criteria, err := s.searchCriteria(req)
	if err != nil {
		return nil, err
	}
	criteria.Statuses = []ImageStatus{StatusCompleted}
	return s.search(ctx, criteria)
}

// ListOwnedImages lists an owner's images in any status
func (s *service) ListOwnedImages(ctx context.Context, owner string, req SearchRequest) (*Page, error) {
	if owner == "" {
		return nil, newValidationError("owner", "Owner is required")
	}
	criteria, err := s.searchCriteria(req)
	if err != nil {
		return nil, err
	}
	for _, status := range req.Statuses {
		if !status.Valid() {
			return nil, newValidationError("status", "Unknown status %q", status)
		}
	}
	criteria.UploadedBy = owner
	criteria.Statuses = req.Statuses
	return s.search(ctx, criteria)
}

func (s *service) search(ctx context.Context, criteria SearchCriteria) (*Page, error) {
	page, err := s.repository.SearchImages(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search images: %w", err)
	}
	return page, nil
}

func (s *service) Statistics(ctx context.Context) (*Stats, error) {
	stats, err := s.repository.ImageStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	return stats, nil
}

// Renditions describes the configured rendition sizes
func (s *service) Renditions() []RenditionDescriptor {
	out := make([]RenditionDescriptor, 0, len(s.settings.RenditionSizes))
	for _, size := range s.settings.RenditionSizes {
		out = append(out, RenditionDescriptor{
			Size:        size,
			Format:      "jpeg",
			ContentType: s.generator.ContentType(),
		})
	}
	return out
}

func (s *service) Close(ctx context.Context) error {
	if s.ownsPool == nil {
		return nil
	}
	if err := s.ownsPool.Close(ctx); err != nil {
		return fmt.Errorf("failed to drain ingestion pool: %w", err)
	}
	return nil
}

// Event and metric helpers. Failures are logged, never returned.

func (s *service) emitCreated(ctx context.Context, image *Image) {
	if err := s.eventSink.ImageCreated(ctx, image); err != nil {
		s.logger.Warn("event sink failed", "event", "image_created", "image_id", image.ID, "err", err)
	}
}

func (s *service) emitStatusChanged(ctx context.Context, image *Image, from ImageStatus) {
	if err := s.eventSink.ImageStatusChanged(ctx, image, from); err != nil {
		s.logger.Warn("event sink failed", "event", "image_status_changed", "image_id", image.ID, "err", err)
	}
}

func (s *service) emitDeleted(ctx context.Context, id uuid.UUID) {
	if err := s.eventSink.ImageDeleted(ctx, id); err != nil {
		s.logger.Warn("event sink failed", "event", "image_deleted", "image_id", id, "err", err)
	}
}
