// Package notify delivers user-facing messages. Delivery is fire-and-forget.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Notifier interface {
	// PushMessage shows a transient in-app message.
	PushMessage(text string)
	// PushNotification raises a system notification.
	PushNotification(text string)
}

// Sink stores notifications for other processes to pick up.
type Sink interface {
	PushNotification(ctx context.Context, text string) error
}

// LogNotifier writes every message to the log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) PushMessage(text string) {
	n.logger.Info().Str("kind", "message").Msg(text)
}

func (n *LogNotifier) PushNotification(text string) {
	n.logger.Info().Str("kind", "notification").Msg(text)
}

// SinkNotifier stores messages and notifications in a Sink so they outlive
// the process. Sink failures are logged and dropped.
type SinkNotifier struct {
	sink    Sink
	timeout time.Duration
	logger  zerolog.Logger
}

func NewSinkNotifier(sink Sink, timeout time.Duration, logger zerolog.Logger) *SinkNotifier {
	return &SinkNotifier{sink: sink, timeout: timeout, logger: logger}
}

func (n *SinkNotifier) PushMessage(text string) {
	n.store("message", text)
}

func (n *SinkNotifier) PushNotification(text string) {
	n.store("notification", text)
}

func (n *SinkNotifier) store(kind, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.sink.PushNotification(ctx, text); err != nil {
		n.logger.Warn().Err(err).Str("kind", kind).Msg("failed to store notification")
	}
}

// Multi fans every call out to all notifiers in order.
type Multi []Notifier

func (m Multi) PushMessage(text string) {
	for _, n := range m {
		n.PushMessage(text)
	}
}

func (m Multi) PushNotification(text string) {
	for _, n := range m {
		n.PushNotification(text)
	}
}
