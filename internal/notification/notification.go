package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	KindOrderCreated   = "order.created"
	KindOrderCancelled = "order.cancelled"
	KindOrderMatched   = "order.matched"
)

// Message describes a notification payload. Key groups related messages,
// e.g. all events of one order.
type Message struct {
	Kind string
	Key  string
	Body []byte
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// OrderEvent is the body of order lifecycle messages.
type OrderEvent struct {
	Kind       string    `json:"kind"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Asset      string    `json:"asset"`
	Side       string    `json:"side"`
	Size       string    `json:"size"`
	Price      string    `json:"price"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewOrderMessage encodes event as a message keyed by order id.
func NewOrderMessage(event OrderEvent) (Message, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: event.Kind, Key: event.OrderID, Body: body}, nil
}

// LoggerNotifier writes notifications to the logger. Used when no broker is configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("key", message.Key),
		slog.String("body", string(message.Body)),
	)
	return nil
}
