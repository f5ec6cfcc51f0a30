package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	KindDepositReceived = "deposit_received"
	KindWalletCharged   = "wallet_charged"
	KindWalletRefunded  = "wallet_refunded"
	KindOrderPlaced     = "order_placed"
	KindShipmentUpdated = "shipment_updated"
)

// Message describes a notification payload. Content rendering happens downstream.
type Message struct {
	Kind        string    `json:"kind"`
	Destination string    `json:"destination"`
	Reference   string    `json:"reference,omitempty"`
	Body        string    `json:"body"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
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
		slog.String("destination", message.Destination),
		slog.String("reference", message.Reference),
		slog.String("body", message.Body))
	return nil
}
