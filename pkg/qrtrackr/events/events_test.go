package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{Writer: w}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := p.PublishScan(context.Background(), ScanMessage{
		LinkID:         7,
		Code:           "abc12345",
		DestinationURL: "https://example.com",
		ScannedAt:      at,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "abc12345", string(msg.Key))
	assert.Equal(t, at, msg.Time)

	var decoded ScanMessage
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, uint(7), decoded.LinkID)
	assert.Equal(t, "https://example.com", decoded.DestinationURL)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherReturnsWriterError(t *testing.T) {
	p := &KafkaPublisher{Writer: &fakeWriter{err: errors.New("broker down")}}

	err := p.PublishScan(context.Background(), ScanMessage{Code: "abc12345"})
	assert.EqualError(t, err, "broker down")
}

func TestNewKafkaPublisherIsAsync(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "qr-scans", nil)
	defer p.Close()

	w, ok := p.Writer.(*kafka.Writer)
	require.True(t, ok)
	assert.True(t, w.Async)
	assert.Equal(t, "qr-scans", w.Topic)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishScan(context.Background(), ScanMessage{}))
	assert.NoError(t, p.Close())
}
