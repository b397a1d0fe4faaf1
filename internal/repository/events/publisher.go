// Package events publishes run lifecycle events.
package events

import (
	"context"

	"SessionScan/internal/domain/models"
)

// Producer is the subset of pkg/kafka.Producer the publisher needs.
type Producer interface {
	Publish(ctx context.Context, key []byte, value interface{}) error
	Close() error
}

// KafkaPublisher writes RunEvents as JSON, keyed by symbol for item events
// and by run id otherwise.
type KafkaPublisher struct {
	p Producer
}

// NewKafkaPublisher wraps p.
func NewKafkaPublisher(p Producer) *KafkaPublisher {
	return &KafkaPublisher{p: p}
}

// PublishEvent implements repository.EventPublisher.
func (k *KafkaPublisher) PublishEvent(ctx context.Context, ev models.RunEvent) error {
	key := ev.RunID
	if ev.Symbol != "" {
		key = ev.Symbol
	}
	return k.p.Publish(ctx, []byte(key), ev)
}

// Close closes the producer.
func (k *KafkaPublisher) Close() error { return k.p.Close() }

// Nop discards events.
type Nop struct{}

func (Nop) PublishEvent(context.Context, models.RunEvent) error { return nil }
func (Nop) Close() error { return nil }
