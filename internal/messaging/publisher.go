package messaging

import (
	"context"

	"realtime-service/internal/logger"
)

// Publisher fans an event out to every subscriber of a topic. Delivery is
// best effort: an error means the event could not be handed to the
// transport, never that a subscriber missed it.
type Publisher interface {
	Publish(ctx context.Context, topic, event string, payload any) error
}

func publish(ctx context.Context, p Publisher, log *logger.Logger, topic, event string, payload any) {
	if err := p.Publish(ctx, topic, event, payload); err != nil {
		log.Warn("fan-out failed", logger.String("topic", topic), logger.String("event", event), logger.Error(err))
	}
}
