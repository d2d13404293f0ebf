package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaBus writes events to a single topic keyed by subject, so all events
// of one case land on the same partition in order.
type KafkaBus struct {
	writer  *kafka.Writer
	brokers []string
}

// NewKafkaBus creates a Kafka-backed event bus
func NewKafkaBus(brokers []string, topic string) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		brokers: brokers,
	}
}

// Publish publishes an event to the bus
func (k *KafkaBus) Publish(ctx context.Context, event Event) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Subject),
		Value: msg,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending writes and closes the writer
func (k *KafkaBus) Close() {
	k.writer.Close()
}

// Health dials the first reachable broker
func (k *KafkaBus) Health() error {
	var lastErr error
	for _, broker := range k.brokers {
		conn, err := net.DialTimeout("tcp", broker, 3*time.Second)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("kafka health check failed: %w", lastErr)
}
