package lifecycle

import (
	"context"
	"log/slog"
)

// NoopPublisher is a no-operation implementation of Publisher.
// Useful when nothing downstream listens to lifecycle events, or for testing.
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher
func NewNoopPublisher() Publisher {
	return &NoopPublisher{}
}

// Publish does nothing
func (n *NoopPublisher) Publish(ctx context.Context, event Event) {}

// LoggingSubscriber logs events but takes no other action.
// Useful for development and as an audit trail in logs.
type LoggingSubscriber struct {
	logger *slog.Logger
}

// NewLoggingSubscriber creates a new logging subscriber
func NewLoggingSubscriber(logger *slog.Logger) Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSubscriber{logger: logger}
}

// HandleEvent logs the event
func (l *LoggingSubscriber) HandleEvent(ctx context.Context, event Event) error {
	attrs := []any{
		"event", event.Name,
		"subject_kind", event.Subject.Kind,
		"subject_id", event.Subject.ID,
		"actor_id", event.ActorID,
	}
	if event.Request != nil {
		attrs = append(attrs, "request_id", event.Request.ID, "request_status", event.Request.Status)
	}
	if event.Action != "" {
		attrs = append(attrs, "action", event.Action)
	}
	if len(event.ChangedFields) > 0 {
		attrs = append(attrs, "changed_fields", event.ChangedFields)
	}
	l.logger.InfoContext(ctx, "Lifecycle event", attrs...)
	return nil
}
