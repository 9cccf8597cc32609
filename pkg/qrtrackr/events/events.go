// Package events publishes scan events for downstream analytics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"github.com/segmentio/kafka-go"
)

// ScanMessage is the payload published for each scan.
type ScanMessage struct {
	LinkID         uint      `json:"link_id"`
	Code           string    `json:"qr_code"`
	DestinationURL string    `json:"destination_url"`
	ReferralCode   string    `json:"referral_code,omitempty"`
	ScannedAt      time.Time `json:"scanned_at"`
	UserAgent      string    `json:"user_agent,omitempty"`
	Referrer       string    `json:"referrer,omitempty"`
}

// Publisher sends scan events somewhere. Implementations must not block the
// caller on delivery.
type Publisher interface {
	PublishScan(ctx context.Context, msg ScanMessage) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishScan(context.Context, ScanMessage) error { return nil }
func (Nop) Close() error                                   { return nil }

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams scan events to a Kafka topic keyed by tracking code,
// so every scan of one code lands on the same partition.
type KafkaPublisher struct {
	Writer MessageWriter
	logger *logger.Logger
}

// NewKafkaPublisher creates an asynchronous producer; delivery failures are
// logged from the writer's completion callback.
func NewKafkaPublisher(brokers []string, topic string, l *logger.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				l.Warn("KAFKA", fmt.Sprintf("failed to deliver %d scan event(s): %v", len(messages), err))
			}
		},
	}
	return &KafkaPublisher{Writer: writer, logger: l}
}

// PublishScan streams the scan event to Kafka
func (p *KafkaPublisher) PublishScan(ctx context.Context, msg ScanMessage) error {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	p.logger.Debug("KAFKA", fmt.Sprintf("publishing scan of %s", msg.Code))

	return p.Writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(msg.Code),
			Value: msgBytes,
			Time:  msg.ScannedAt,
		},
	)
}

// Close flushes pending messages and shuts the writer down.
func (p *KafkaPublisher) Close() error {
	return p.Writer.Close()
}
