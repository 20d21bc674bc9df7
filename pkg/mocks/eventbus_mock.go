// Package mocks provides testify mocks for the engine's collaborators.
package mocks

import (
	"context"
	"sync"

	"github.com/dukex/orderflow/pkg/eventbus"
	"github.com/dukex/orderflow/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock

	mu        sync.Mutex
	published []eventbus.Event
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	m.mu.Lock()
	m.published = append(m.published, event)
	m.mu.Unlock()

	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Register(eventType events.EventType, factory eventbus.EventFactory) {
	m.Called(eventType, factory)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockEventBus) GenerateID() string {
	args := m.Called()

	return args.String(0)
}

// PublishedTypes lists the types of every published event in order.
func (m *MockEventBus) PublishedTypes() []events.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]events.EventType, 0, len(m.published))
	for _, event := range m.published {
		types = append(types, event.GetType())
	}

	return types
}

// Published returns every published event in order.
func (m *MockEventBus) Published() []eventbus.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]eventbus.Event(nil), m.published...)
}
