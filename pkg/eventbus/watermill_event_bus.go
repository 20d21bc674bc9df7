package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/orderflow/pkg/events"
)

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
	factories     map[events.EventType]EventFactory
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	eb := &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "event_bus"),
		subscriptions: make(map[events.EventType]EventHandler),
		factories:     make(map[events.EventType]EventFactory),
	}

	for _, eventType := range []events.EventType{
		events.ExecutionFailedEvent,
		events.ExecutionCompensatedEvent,
		events.ExecutionCancelledEvent,
		events.ExecutionTimeoutEvent,
	} {
		eb.Register(eventType, func() any { return &events.ExecutionFailed{} })
	}

	for _, eventType := range []events.EventType{
		events.ExecutionPausedEvent,
		events.ExecutionResumedEvent,
		events.ExecutionCleanedUpEvent,
	} {
		eb.Register(eventType, func() any { return &events.ExecutionTransitioned{} })
	}

	eb.Register(events.ExecutionStartedEvent, func() any { return &events.ExecutionStarted{} })
	eb.Register(events.ExecutionCompletedEvent, func() any { return &events.ExecutionCompleted{} })
	eb.Register(events.StepCompletedEvent, func() any { return &events.StepCompleted{} })
	eb.Register(events.StepFailedEvent, func() any { return &events.StepFailed{} })
	eb.Register(events.StepCompensatedEvent, func() any { return &events.StepCompensation{} })
	eb.Register(events.StepCompensationFailedEvent, func() any { return &events.StepCompensation{} })

	return eb
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Register teaches the bus how to decode a domain event type.
func (eb *WatermillEventBus) Register(eventType events.EventType, factory EventFactory) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.factories[eventType] = factory
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eb.dispatch(ctx, msg)
		}
	}()

	return nil
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handler, subscribed := eb.subscriptions[eventType]
	factory, known := eb.factories[eventType]
	eb.mu.RUnlock()

	if !subscribed {
		msg.Ack()

		return
	}

	if !known {
		eb.logger.WarnContext(ctx, "no decoder registered for event type", "event_type", eventType)
		msg.Nack()

		return
	}

	event := factory()

	err := json.Unmarshal(msg.Payload, event)
	if err != nil {
		eb.logger.ErrorContext(ctx, "failed to decode event", "event_type", eventType, "error", err)
		msg.Nack()

		return
	}

	err = handler(ctx, event)
	if err != nil {
		eb.logger.ErrorContext(ctx, "event handler failed", "event_type", eventType, "error", err)
		msg.Nack()

		return
	}

	msg.Ack()
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
