package health

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes alerts to the log
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{
		logger: logger.With().Str("component", "alerts").Logger(),
	}
}

// Notify logs firing alerts at error (critical) or warn level and resolved
// alerts at info level
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	event := n.logger.Info()
	if alert.State == StateFiring {
		if alert.Severity == SeverityCritical {
			event = n.logger.Error()
		} else {
			event = n.logger.Warn()
		}
	}

	event.
		Str("rule", alert.Rule).
		Str("severity", string(alert.Severity)).
		Str("state", string(alert.State)).
		Time("at", alert.At).
		Msg(alert.Message)
	return nil
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, alert Alert) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}
