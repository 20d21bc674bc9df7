package eventbus_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/orderflow/pkg/channels/gochannel"
	"github.com/dukex/orderflow/pkg/eventbus"
	"github.com/dukex/orderflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderShipped struct {
	events.BaseEvent

	OrderID string `json:"order_id"`
}

func (orderShipped) GetType() events.EventType {
	return "order.shipped"
}

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversLifecycleEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	received := make(chan *events.ExecutionFailed, 1)

	require.NoError(t, bus.Handle(events.ExecutionCompensatedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ExecutionFailed)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "exec-1", events.ExecutionFailed{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompensatedEvent, "exec-1", "checkout", ""),
		Status:    "COMPENSATED",
		Error:     "card declined",
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "exec-1", event.ExecutionID)
		assert.Equal(t, "card declined", event.Error)
		assert.Equal(t, events.ExecutionCompensatedEvent, event.GetType())
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_DecodesRegisteredDomainEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	bus.Register("order.shipped", func() any { return &orderShipped{} })

	received := make(chan *orderShipped, 1)

	require.NoError(t, bus.Handle("order.shipped", func(_ context.Context, event any) error {
		received <- event.(*orderShipped)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "order-1", orderShipped{
		BaseEvent: events.NewBaseEvent("order.shipped", "exec-2", "checkout", "corr-2"),
		OrderID:   "order-1",
	}))

	select {
	case event := <-received:
		assert.Equal(t, "order-1", event.OrderID)
		assert.Equal(t, "corr-2", event.CorrelationID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
