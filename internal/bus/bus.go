package bus

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus or KafkaBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "kafka":
		return NewKafkaBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Respond publishes payload as the reply to a message received through
// Subscribe. It fails when the sender did not ask for a reply.
func Respond(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	if msg == nil || msg.ReplyTo == "" {
		return fmt.Errorf("message %s expects no reply", messageID(msg))
	}
	return b.Publish(ctx, msg.ReplyTo, payload)
}

func messageID(msg *domain.Message) string {
	if msg == nil {
		return "<nil>"
	}
	return msg.ID
}
