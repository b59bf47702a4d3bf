package simpleimage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NoopEventSink is an EventSink that does nothing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-op event sink
func NewNoopEventSink() *NoopEventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ImageCreated(ctx context.Context, image *Image) error {
	return nil
}

func (n *NoopEventSink) ImageStatusChanged(ctx context.Context, image *Image, from ImageStatus) error {
	return nil
}

func (n *NoopEventSink) ImageDeleted(ctx context.Context, imageID uuid.UUID) error {
	return nil
}

// LoggingEventSink writes lifecycle events to a slog logger
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates an event sink that logs at info level
func NewLoggingEventSink(logger *slog.Logger) *LoggingEventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

func (l *LoggingEventSink) ImageCreated(ctx context.Context, image *Image) error {
	l.logger.InfoContext(ctx, "image created", "image_id", image.ID, "uploaded_by", image.UploadedBy)
	return nil
}

func (l *LoggingEventSink) ImageStatusChanged(ctx context.Context, image *Image, from ImageStatus) error {
	l.logger.InfoContext(ctx, "image status changed", "image_id", image.ID, "from", from, "to", image.Status)
	return nil
}

func (l *LoggingEventSink) ImageDeleted(ctx context.Context, imageID uuid.UUID) error {
	l.logger.InfoContext(ctx, "image deleted", "image_id", imageID)
	return nil
}

// NoopObserver is an Observer that discards measurements
type NoopObserver struct{}

// NewNoopObserver creates a new no-op observer
func NewNoopObserver() *NoopObserver {
	return &NoopObserver{}
}

func (n *NoopObserver) ObserveIngestion(status ImageStatus, duration time.Duration) {}

func (n *NoopObserver) ObserveBlobOperation(op string, duration time.Duration, err error) {}

func (n *NoopObserver) ObserveDeletion(keys, failed int) {}
