// Package notify delivers update notifications to mod owners.
//
// A Notifier sends one message to one recipient. The Dispatcher fans a batch
// out over a fixed pool of workers and counts successes and failures; it
// never fails the batch because of a single recipient.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNoAddress is recorded for recipients without a deliverable address.
var ErrNoAddress = errors.New("notify: recipient has no email address")

// Message is one notification for one recipient.
type Message struct {
	To        string
	Name      string
	Subject   string
	PlainText string
	HTML      string
}

// Notifier delivers a single message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of sending them. It is used
// when no email provider is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification (not sent, no email provider configured)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}
