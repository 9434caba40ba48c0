package notification

import (
	"context"

	"github.com/segmentio/kafka-go"
)

const kindHeader = "kind"

// MessageWriter is the part of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes messages to a Kafka topic, one record per message,
// keyed by Message.Key so events of one order stay on one partition.
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaNotifier wraps a configured writer.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Send writes the message and waits for the broker acknowledgement.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.Key),
		Value: message.Body,
		Headers: []kafka.Header{
			{Key: kindHeader, Value: []byte(message.Kind)},
		},
	})
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
