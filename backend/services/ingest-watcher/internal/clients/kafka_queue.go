package clients

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes jobs keyed by station so one station's jobs stay ordered.
type KafkaQueue struct {
	writer messageWriter
}

// NewKafkaQueue creates a synchronous producer for topic.
func NewKafkaQueue(brokers []string, topic string) *KafkaQueue {
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (q *KafkaQueue) Submit(ctx context.Context, job PlotJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("kafka queue: encode job: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(job.Station),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(job.Kind)},
		},
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka queue: write message: %w", err)
	}
	return nil
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}
