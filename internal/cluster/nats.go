package cluster

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"realtime-service/internal/logger"
)

type natsBus struct {
	nc      *nats.Conn
	subject string
	log     *logger.Logger
	sub     *nats.Subscription
}

func dialNATS(url, subject string, log *logger.Logger) (*natsBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("realtime-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logger.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &natsBus{nc: nc, subject: subject, log: log}, nil
}

func (b *natsBus) Publish(_ context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, body)
}

func (b *natsBus) Subscribe(_ context.Context, h Handler) error {
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			b.log.Warn("dropping malformed cluster envelope", logger.Error(err))
			return
		}
		h(env)
	})
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

func (b *natsBus) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
