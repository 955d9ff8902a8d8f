// Package cluster forwards encoded frames between service nodes so a topic
// published on one node reaches subscribers connected to any other node.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"realtime-service/internal/config"
	"realtime-service/internal/logger"
)

// Envelope is one frame in flight between nodes.
type Envelope struct {
	Node  string          `json:"node"`
	Topic string          `json:"topic"`
	Frame json.RawMessage `json:"frame"`
}

// Handler receives envelopes published by other nodes.
type Handler func(Envelope)

// Bus is the inter-node transport.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe starts delivering envelopes to h. Envelopes whose Node equals
	// the local node id are filtered by the caller.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// NodeID returns the configured node id or a random one.
func NodeID(cfg config.ClusterConfig) string {
	if cfg.NodeID != "" {
		return cfg.NodeID
	}
	return uuid.NewString()
}

// New builds the bus selected by cfg.Driver, retrying the broker dial with
// exponential backoff until cfg.DialTimeout elapses.
func New(ctx context.Context, cfg config.ClusterConfig, log *logger.Logger) (Bus, error) {
	log = log.Named("cluster")

	var dial func() (Bus, error)
	switch cfg.Driver {
	case "", "none":
		log.Info("cluster fan-out disabled")
		return Local(), nil
	case "amqp":
		dial = func() (Bus, error) { return dialAMQP(cfg.AMQPURL, cfg.Exchange, log) }
	case "nats":
		dial = func() (Bus, error) { return dialNATS(cfg.NATSURL, cfg.Subject, log) }
	default:
		return nil, fmt.Errorf("unknown cluster driver %q", cfg.Driver)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.DialTimeout

	var bus Bus
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		b, err := dial()
		if err != nil {
			log.Warn("cluster bus not ready", logger.String("driver", cfg.Driver), logger.Int("attempt", attempt), logger.Error(err))
			return err
		}
		bus = b
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("dial cluster bus: %w", err)
	}
	log.Info("cluster bus connected", logger.String("driver", cfg.Driver))
	return bus, nil
}

type localBus struct{}

// Local returns a bus for a single node: nothing leaves the process.
func Local() Bus { return localBus{} }

func (localBus) Publish(context.Context, Envelope) error { return nil }

func (localBus) Subscribe(context.Context, Handler) error { return nil }

func (localBus) Close() error { return nil }
