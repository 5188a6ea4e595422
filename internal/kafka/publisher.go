package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher wraps a kafka-go Writer for the outbox relay. Topic comes from
// the message, not the writer, so one publisher serves every outbox topic.
type Publisher struct {
	w *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 20 * time.Millisecond,
		},
	}
}

// Publish writes one message keyed by aggregate id, so all events of a
// campaign land on the same partition in order.
func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

func (p *Publisher) Close() error { return p.w.Close() }
