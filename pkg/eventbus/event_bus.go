// Package eventbus provides the publish/subscribe plumbing for engine lifecycle and domain events.
package eventbus

import (
	"context"

	"github.com/dukex/orderflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

// EventFactory returns an empty event value to decode a payload into.
type EventFactory func() any

type EventBus interface {
	EventPublisher
	EventSubscriber
	Register(eventType events.EventType, factory EventFactory)
	Close() error
	GenerateID() string
}
