package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/orderflow/pkg/channels/gochannel"
	"github.com/dukex/orderflow/pkg/channels/kafka"
	"github.com/dukex/orderflow/pkg/eventbus"
)

const serviceName = "orderflow"

// NewEventBus builds the bus for provider: "gochannel" for a single process,
// "kafka" for brokers shared between instances.
func NewEventBus(provider string, brokers []string, logger *slog.Logger) (eventbus.EventBus, error) {
	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	adapter := watermill.NewSlogLogger(logger)

	switch provider {
	case "gochannel", "":
		pub, sub, err = gochannel.CreateChannel(adapter)
	case "kafka":
		pub, sub, err = kafka.CreateChannel(adapter, brokers, serviceName)
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s pub/sub: %w", provider, err)
	}

	return eventbus.NewWatermillEventBus(pub, sub, logger), nil
}
