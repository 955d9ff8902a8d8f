package ws

import (
	"github.com/gorilla/websocket"

	"realtime-service/internal/models"
	"realtime-service/internal/observability"
)

// Hub ties the registry and the router together for the connection
// lifecycle.
type Hub struct {
	registry *Registry
	router   *Router
}

func NewHub(registry *Registry, router *Router) *Hub {
	return &Hub{registry: registry, router: router}
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Router() *Router { return h.router }

// Attach registers an authenticated client and subscribes it to its private
// user topic.
func (h *Hub) Attach(c *Client) error {
	if err := h.registry.Register(c); err != nil {
		return err
	}
	if err := h.router.Join(c.ID(), models.UserTopic(c.UserID())); err != nil {
		h.registry.Unregister(c.ID())
		return err
	}
	observability.IncWSActive()
	return nil
}

// Detach unregisters the client and drops all its memberships. It is safe
// to call more than once.
func (h *Hub) Detach(c *Client) {
	if h.registry.Unregister(c.ID()) {
		observability.DecWSActive()
	}
	h.router.Drop(c.ID())
}

// Stats returns the number of local connections and live topics.
func (h *Hub) Stats() (connections, topics int) {
	return h.registry.Count(), h.router.TopicCount()
}

// CloseAll asks every connected client to go away. Clients reconnect to
// another node and backfill.
func (h *Hub) CloseAll() int {
	clients := h.registry.All()
	for _, c := range clients {
		c.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
	return len(clients)
}
