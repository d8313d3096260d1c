package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventName identifies a lifecycle event.
type EventName string

// Lifecycle events emitted by the Service.
const (
	EventContentCreated    EventName = "content.created"
	EventContentUpdated    EventName = "content.updated"
	EventContentPublished  EventName = "content.published"
	EventApprovalRequested EventName = "approval.requested"
	EventApprovalProcessed EventName = "approval.processed"
)

// Event is the payload delivered to subscribers. Item is set for content
// events, Request for approval events.
type Event struct {
	Name          EventName        `json:"name"`
	Subject       Subject          `json:"subject"`
	Item          Item             `json:"item,omitempty"`
	Request       *ApprovalRequest `json:"request,omitempty"`
	ActorID       uuid.UUID        `json:"actor_id"`
	Action        string           `json:"action,omitempty"`
	ChangedFields []string         `json:"changed_fields,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// Publisher receives lifecycle events after the triggering change committed.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Subscriber handles lifecycle events. A returned error is logged and never
// affects the operation that produced the event.
type Subscriber interface {
	HandleEvent(ctx context.Context, event Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, event Event) error

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// On returns a subscriber that only sees events with the given names.
func On(fn SubscriberFunc, names ...EventName) Subscriber {
	return SubscriberFunc(func(ctx context.Context, event Event) error {
		for _, name := range names {
			if event.Name == name {
				return fn(ctx, event)
			}
		}
		return nil
	})
}

// EventBus delivers events synchronously to its subscribers in registration
// order.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	logger      *slog.Logger
}

// NewEventBus creates a bus with the given subscribers.
func NewEventBus(logger *slog.Logger, subscribers ...Subscriber) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{subscribers: subscribers, logger: logger}
}

// Subscribe appends a subscriber.
func (b *EventBus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish runs every subscriber; failures and panics are logged.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subscribers := make([]Subscriber, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	for i, s := range subscribers {
		b.deliver(ctx, i, s, event)
	}
}

func (b *EventBus) deliver(ctx context.Context, idx int, s Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event subscriber panicked", "event", event.Name, "subscriber", idx, "panic", r)
		}
	}()
	if err := s.HandleEvent(ctx, event); err != nil {
		b.logger.Error("Event subscriber failed",
			"event", event.Name,
			"subject_kind", event.Subject.Kind,
			"subject_id", event.Subject.ID,
			"subscriber", idx,
			"err", err)
	}
}
