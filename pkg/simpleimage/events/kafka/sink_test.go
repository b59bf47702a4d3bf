package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func decode(t *testing.T, msg kafkago.Message) Event {
	t.Helper()
	var event Event
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	return event
}

func TestSinkPublishesLifecycle(t *testing.T) {
	writer := &fakeWriter{}
	sink := newSink(writer, time.Second)
	sink.now = func() time.Time { return time.Unix(1700000000, 0) }

	image := &simpleimage.Image{ID: uuid.New(), Status: simpleimage.StatusProcessing, UploadedBy: "alice"}
	ctx := context.Background()

	require.NoError(t, sink.ImageCreated(ctx, image))
	image.Status = simpleimage.StatusFailed
	image.FailureReason = "renditions: boom"
	require.NoError(t, sink.ImageStatusChanged(ctx, image, simpleimage.StatusProcessing))
	require.NoError(t, sink.ImageDeleted(ctx, image.ID))

	require.Len(t, writer.messages, 3)
	for _, msg := range writer.messages {
		assert.Equal(t, image.ID.String(), string(msg.Key))
	}

	created := decode(t, writer.messages[0])
	assert.Equal(t, EventImageCreated, created.Type)
	assert.Equal(t, "alice", created.UploadedBy)
	assert.Equal(t, int64(1700000000), created.Timestamp)

	changed := decode(t, writer.messages[1])
	assert.Equal(t, EventImageStatusChanged, changed.Type)
	assert.Equal(t, simpleimage.StatusFailed, changed.Status)
	assert.Equal(t, simpleimage.StatusProcessing, changed.PreviousState)
	assert.Equal(t, "renditions: boom", changed.FailureReason)

	deleted := decode(t, writer.messages[2])
	assert.Equal(t, EventImageDeleted, deleted.Type)
	assert.Equal(t, image.ID, deleted.ImageID)

	require.NoError(t, sink.Close())
	assert.True(t, writer.closed)
}

func TestSinkWrapsWriterErrors(t *testing.T) {
	cause := errors.New("leader not available")
	sink := newSink(&fakeWriter{err: cause}, time.Second)

	err := sink.ImageDeleted(context.Background(), uuid.New())
	assert.ErrorIs(t, err, cause)
}

func TestNewSinkValidation(t *testing.T) {
	_, err := NewSink(Config{Topic: "images"})
	assert.Error(t, err)

	_, err = NewSink(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	sink, err := NewSink(Config{Brokers: []string{"localhost:9092"}, Topic: "images"})
	require.NoError(t, err)
	writer, ok := sink.writer.(*kafkago.Writer)
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, writer.BatchTimeout)
	assert.Equal(t, 10*time.Second, writer.WriteTimeout)
	assert.NoError(t, sink.Close())

	sink, err = NewSink(Config{Brokers: []string{"localhost:9092"}, Topic: "images", BatchTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, time.Second, sink.writer.(*kafkago.Writer).BatchTimeout)
	assert.NoError(t, sink.Close())
}
