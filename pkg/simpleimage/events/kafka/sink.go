// Package kafka publishes image lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Event types
const (
	EventImageCreated       = "image.created"
	EventImageStatusChanged = "image.status_changed"
	EventImageDeleted       = "image.deleted"
)

// Event is the JSON message value. Messages are keyed by image id so all
// events of one image land on the same partition in order.
type Event struct {
	Type          string                  `json:"type"`
	ImageID       uuid.UUID               `json:"image_id"`
	Status        simpleimage.ImageStatus `json:"status,omitempty"`
	PreviousState simpleimage.ImageStatus `json:"previous_status,omitempty"`
	FailureReason string                  `json:"failure_reason,omitempty"`
	UploadedBy    string                  `json:"uploaded_by,omitempty"`
	Timestamp     int64                   `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config configures the producer.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	// BatchTimeout caps how long a write waits for a batch to fill. Every
	// publish is a single message on the request path, so it defaults low.
	BatchTimeout time.Duration
}

// Sink implements simpleimage.EventSink.
type Sink struct {
	writer       messageWriter
	writeTimeout time.Duration
	now          func() time.Time
}

// NewSink creates a synchronous producer for cfg.Topic.
func NewSink(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	return newSink(writer, cfg.WriteTimeout), nil
}

func newSink(writer messageWriter, timeout time.Duration) *Sink {
	return &Sink{writer: writer, writeTimeout: timeout, now: time.Now}
}

var _ simpleimage.EventSink = (*Sink)(nil)

func (s *Sink) ImageCreated(ctx context.Context, image *simpleimage.Image) error {
	return s.publish(ctx, Event{
		Type:       EventImageCreated,
		ImageID:    image.ID,
		Status:     image.Status,
		UploadedBy: image.UploadedBy,
	})
}

func (s *Sink) ImageStatusChanged(ctx context.Context, image *simpleimage.Image, from simpleimage.ImageStatus) error {
	return s.publish(ctx, Event{
		Type:          EventImageStatusChanged,
		ImageID:       image.ID,
		Status:        image.Status,
		PreviousState: from,
		FailureReason: image.FailureReason,
	})
}

func (s *Sink) ImageDeleted(ctx context.Context, imageID uuid.UUID) error {
	return s.publish(ctx, Event{Type: EventImageDeleted, ImageID: imageID})
}

// Close flushes and closes the producer.
func (s *Sink) Close() error {
	return s.writer.Close()
}

func (s *Sink) publish(ctx context.Context, event Event) error {
	event.Timestamp = s.now().Unix()
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	err = s.writer.WriteMessages(sendCtx, kafkago.Message{
		Key:   []byte(event.ImageID.String()),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event for image %s: %w", event.Type, event.ImageID, err)
	}
	return nil
}
