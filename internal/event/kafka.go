// kafka.go - Kafka forwarder for the event stream.
//
// Forwards every event from a broadcaster subscription to a Kafka topic as a
// JSON message keyed by event type, so external indexers can replay the
// stream.

package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes the event stream to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		log: log.With().Str("component", "kafka").Logger(),
	}
}

// Run forwards events until the channel closes or the context is cancelled.
func (p *KafkaPublisher) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				p.log.Error().Err(err).Msg("event marshal failed")
				continue
			}
			msg := kafka.Message{Key: []byte(e.Type), Value: data}
			if err := p.writer.WriteMessages(ctx, msg); err != nil {
				p.log.Error().Err(err).Str("type", string(e.Type)).Msg("kafka publish failed")
			}
		}
	}
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
