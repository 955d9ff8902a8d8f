package cluster

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"realtime-service/internal/logger"
)

// amqpBus publishes to a fanout exchange; every node consumes from its own
// exclusive, server-named queue bound to it.
type amqpBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *logger.Logger

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
}

func dialAMQP(url, exchange string, log *logger.Logger) (*amqpBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &amqpBus{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func (b *amqpBus) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (b *amqpBus) Subscribe(ctx context.Context, h Handler) error {
	q, err := b.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := b.ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return err
	}
	deliveries, err := b.ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			var env Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				b.log.Warn("dropping malformed cluster envelope", logger.Error(err))
				continue
			}
			h(env)
		}
		b.log.Info("cluster consumer stopped", logger.String("queue", q.Name))
	}()
	return nil
}

func (b *amqpBus) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
