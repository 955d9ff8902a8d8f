package ws

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"realtime-service/internal/cluster"
	"realtime-service/internal/logger"
	"realtime-service/internal/observability"
)

var ErrNotRegistered = errors.New("connection is not registered")

// Router tracks topic membership and fans frames out to subscribers.
// Membership is process local and rebuilt by clients on reconnect.
type Router struct {
	mu       sync.RWMutex
	registry *Registry
	topics   map[string]map[string]struct{}
	joined   map[string]map[string]struct{}

	bus  cluster.Bus
	node string
	log  *logger.Logger
}

func NewRouter(registry *Registry, bus cluster.Bus, node string, log *logger.Logger) *Router {
	if bus == nil {
		bus = cluster.Local()
	}
	return &Router{
		registry: registry,
		topics:   make(map[string]map[string]struct{}),
		joined:   make(map[string]map[string]struct{}),
		bus:      bus,
		node:     node,
		log:      log.Named("router"),
	}
}

// Join subscribes a registered connection to topic. Joining twice is a
// no-op. The registration check and the insert share one critical section
// so a join racing a disconnect cannot leave a dangling member.
func (r *Router) Join(connID, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registry.Get(connID); !ok {
		return ErrNotRegistered
	}

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[string]struct{})
		r.topics[topic] = subs
	}
	subs[connID] = struct{}{}

	mine, ok := r.joined[connID]
	if !ok {
		mine = make(map[string]struct{})
		r.joined[connID] = mine
	}
	mine[topic] = struct{}{}
	return nil
}

// Leave unsubscribes; leaving a topic never joined is a no-op.
func (r *Router) Leave(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, topic)
}

func (r *Router) leaveLocked(connID, topic string) {
	if subs, ok := r.topics[topic]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}
	if mine, ok := r.joined[connID]; ok {
		delete(mine, topic)
		if len(mine) == 0 {
			delete(r.joined, connID)
		}
	}
}

// Drop removes the connection from every topic it joined.
func (r *Router) Drop(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic := range r.joined[connID] {
		r.leaveLocked(connID, topic)
	}
	delete(r.joined, connID)
}

// SubscribersOf returns the connection ids joined to topic, sorted.
func (r *Router) SubscribersOf(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.topics[topic]))
	for id := range r.topics[topic] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TopicsOf returns the topics a connection joined, sorted.
func (r *Router) TopicsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.joined[connID]))
	for topic := range r.joined[connID] {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// TopicCount is the number of topics with at least one subscriber.
func (r *Router) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// Publish delivers event to every local subscriber of topic and forwards it
// to the other nodes. Delivery is at most once; a vanished subscriber is
// skipped silently.
func (r *Router) Publish(ctx context.Context, topic, event string, payload any) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	observability.AddFanoutDelivered(event, r.deliver(topic, frame))

	if err := r.bus.Publish(ctx, cluster.Envelope{Node: r.node, Topic: topic, Frame: frame}); err != nil {
		observability.IncClusterEnvelope("out", "error")
		return err
	}
	observability.IncClusterEnvelope("out", "ok")
	return nil
}

// Deliver hands an envelope from another node to local subscribers.
// Envelopes this node published itself are ignored.
func (r *Router) Deliver(env cluster.Envelope) {
	if env.Node == r.node {
		return
	}
	observability.IncClusterEnvelope("in", "ok")
	observability.AddFanoutDelivered("cluster", r.deliver(env.Topic, env.Frame))
}

// Listen subscribes the router to the cluster bus.
func (r *Router) Listen(ctx context.Context) error {
	return r.bus.Subscribe(ctx, r.Deliver)
}

func (r *Router) deliver(topic string, frame []byte) int {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.topics[topic]))
	for id := range r.topics[topic] {
		if c, ok := r.registry.Get(id); ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		switch err := c.Send(frame); {
		case err == nil:
			delivered++
		case errors.Is(err, errSendBufferFull):
			// a client this far behind reconnects and backfills
			observability.IncFanoutDropped("slow_consumer")
			r.log.Warn("closing slow consumer", logger.String("conn_id", c.ID()), logger.Int("user_id", c.UserID()))
			c.CloseWith(websocket.CloseTryAgainLater, "slow consumer")
		default:
			observability.IncFanoutDropped("closed")
		}
	}
	return delivered
}
