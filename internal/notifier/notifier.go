// Package notifier
package notifier

import (
	"context"

	"github.com/amirphl/breakout-trader/internal/utils"
)

// Notifier sends operator-facing messages. Delivery is best-effort: callers
// log a failure and move on.
type Notifier interface {
	Send(ctx context.Context, msg string) error
}

// Command is one inbound message from the control channel.
type Command struct {
	ID       int64
	SenderID string
	Text     string
}

// LogNotifier writes messages to the log. Used when no chat is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg string) error {
	utils.Component("notifier").Info(msg)
	return nil
}
