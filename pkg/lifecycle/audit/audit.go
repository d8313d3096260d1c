// Package audit forwards lifecycle events to an external audit sink as
// CloudEvents over HTTP.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

// DefaultSource is the CloudEvents source attribute used unless overridden.
const DefaultSource = "simple-lifecycle"

// TypePrefix is prepended to lifecycle event names to form CloudEvents types.
const TypePrefix = "io.simplelifecycle."

// Payload is the data of every forwarded CloudEvent.
type Payload struct {
	Kind          lifecycle.Kind             `json:"kind"`
	ID            uuid.UUID                  `json:"id"`
	ActorID       uuid.UUID                  `json:"actor_id"`
	Action        string                     `json:"action,omitempty"`
	ChangedFields []string                   `json:"changed_fields,omitempty"`
	Item          map[string]interface{}     `json:"item,omitempty"`
	Request       *lifecycle.ApprovalRequest `json:"request,omitempty"`
}

// Forwarder is a lifecycle.Subscriber that sends each event to target.
type Forwarder struct {
	client cloudevents.Client
	target string
	source string
	logger *slog.Logger
}

// Option configures a Forwarder
type Option func(*Forwarder)

// WithSource sets the CloudEvents source attribute
func WithSource(source string) Option {
	return func(f *Forwarder) {
		f.source = source
	}
}

// WithClient replaces the default HTTP CloudEvents client
func WithClient(client cloudevents.Client) Option {
	return func(f *Forwarder) {
		f.client = client
	}
}

// WithLogger sets the forwarder logger
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// New creates a forwarder sending to the target URL
func New(target string, options ...Option) (*Forwarder, error) {
	if target == "" {
		return nil, fmt.Errorf("audit target is required")
	}
	f := &Forwarder{target: target, source: DefaultSource, logger: slog.Default()}
	for _, option := range options {
		option(f)
	}
	if f.client == nil {
		client, err := cloudevents.NewClientHTTP()
		if err != nil {
			return nil, fmt.Errorf("create cloudevents client: %w", err)
		}
		f.client = client
	}
	return f, nil
}

// ToCloudEvent converts a lifecycle event.
func ToCloudEvent(source string, e lifecycle.Event) (cloudevents.Event, error) {
	payload := Payload{
		Kind:          e.Subject.Kind,
		ID:            e.Subject.ID,
		ActorID:       e.ActorID,
		Action:        e.Action,
		ChangedFields: e.ChangedFields,
		Request:       e.Request,
	}
	if e.Item != nil {
		snapshot, err := lifecycle.Snapshot(e.Item)
		if err != nil {
			return cloudevents.Event{}, err
		}
		payload.Item = snapshot
	}

	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(source)
	ce.SetType(TypePrefix + string(e.Name))
	ce.SetSubject(fmt.Sprintf("%s/%s", e.Subject.Kind, e.Subject.ID))
	ce.SetTime(e.OccurredAt)
	ce.SetExtension("actorid", e.ActorID.String())
	if err := ce.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return cloudevents.Event{}, fmt.Errorf("encode event data: %w", err)
	}
	return ce, nil
}

// HandleEvent sends the event and reports delivery failures.
func (f *Forwarder) HandleEvent(ctx context.Context, e lifecycle.Event) error {
	ce, err := ToCloudEvent(f.source, e)
	if err != nil {
		return err
	}

	ctx = cloudevents.ContextWithTarget(ctx, f.target)
	if result := f.client.Send(ctx, ce); !cloudevents.IsACK(result) {
		return fmt.Errorf("forward %s: %w", e.Name, result)
	}
	f.logger.DebugContext(ctx, "Forwarded audit event", "event", e.Name, "cloudevent_id", ce.ID())
	return nil
}

var _ lifecycle.Subscriber = (*Forwarder)(nil)
