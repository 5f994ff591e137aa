package passport

import (
	"context"
	"time"
)

// EventType enumerates lifecycle events.
type EventType string

const (
	EventUserRegistered      EventType = "user.registered"
	EventUserLogin           EventType = "user.login"
	EventUserPasswordUpdated EventType = "user.password.updated"
	EventUserPasswordRecover EventType = "user.password.recover"
	EventUserPasswordReset   EventType = "user.password.reset"
)

// AllEventTypes lists every event the lifecycle emits.
var AllEventTypes = []EventType{
	EventUserRegistered,
	EventUserLogin,
	EventUserPasswordUpdated,
	EventUserPasswordRecover,
	EventUserPasswordReset,
}

// Event describes something that happened to a user.
type Event struct {
	Type       EventType        `json:"type"`
	Object     string           `json:"object"`
	ObjectID   string           `json:"object_id"`
	Objects    []map[string]any `json:"objects,omitempty"`
	Message    string           `json:"message"`
	Data       *User            `json:"data,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// PublishOptions travel with an event to the publisher.
type PublishOptions struct {
	Persist bool
}

// EventPublisher delivers lifecycle events. Publishing is best effort:
// errors are logged by the caller and never fail an operation.
type EventPublisher interface {
	Publish(ctx context.Context, event Event, opts PublishOptions) error
}

// EventPublisherFunc adapts a function to the EventPublisher interface.
type EventPublisherFunc func(ctx context.Context, event Event, opts PublishOptions) error

// Publish implements EventPublisher.
func (f EventPublisherFunc) Publish(ctx context.Context, event Event, opts PublishOptions) error {
	if f == nil {
		return nil
	}
	return f(ctx, event, opts)
}

type noopPublisher struct {
	logger Logger
}

func (n noopPublisher) Publish(_ context.Context, event Event, _ PublishOptions) error {
	n.logger.Debug("event publisher not configured, dropping event", "type", event.Type, "object_id", event.ObjectID)
	return nil
}

func normalizePublisher(p EventPublisher, logger Logger) EventPublisher {
	if p == nil {
		return noopPublisher{logger: logger}
	}
	return p
}

func newUserEvent(eventType EventType, user *User, message string) Event {
	evt := Event{
		Type:       eventType,
		Object:     "user",
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
	if user != nil {
		evt.ObjectID = user.ID.String()
		evt.Data = user.Snapshot()
		evt.Objects = []map[string]any{{"user": user.ID.String()}}
	}
	return evt
}

// outbox collects events raised inside a transaction so they can be
// published once it commits.
type outbox struct {
	events []Event
}

func (o *outbox) add(evt Event) {
	if o == nil {
		return
	}
	o.events = append(o.events, evt)
}

// publish delivers events in the order they were raised. Disabled event
// types are dropped and failures are only logged.
func (s *Service) publish(ctx context.Context, events ...Event) {
	for _, evt := range events {
		if !s.opts.eventEnabled(evt.Type) {
			s.logger.Debug("event disabled, skipping", "type", evt.Type)
			continue
		}
		if err := s.publisher.Publish(ctx, evt, PublishOptions{Persist: true}); err != nil {
			s.logger.Error("failed to publish event", "type", evt.Type, "object_id", evt.ObjectID, "error", err)
		}
	}
}
