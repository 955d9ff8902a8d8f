package ws

import (
	"errors"
	"sort"
	"sync"
)

var ErrDuplicateConnection = errors.New("connection id already registered")

// Registry maps connection ids to clients and users to their connections.
// A connection belongs to exactly one user for its lifetime.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[int]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		byUser:  make(map[int]map[string]struct{}),
	}
}

// Register adds an authenticated client. Registering the same client twice
// is a no-op.
func (r *Registry) Register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[c.ID()]; ok {
		if existing == c {
			return nil
		}
		return ErrDuplicateConnection
	}
	r.clients[c.ID()] = c
	conns, ok := r.byUser[c.UserID()]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[c.UserID()] = conns
	}
	conns[c.ID()] = struct{}{}
	return nil
}

// Unregister removes a connection and reports whether it was present.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connID]
	if !ok {
		return false
	}
	delete(r.clients, connID)
	if conns, ok := r.byUser[c.UserID()]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, c.UserID())
		}
	}
	return true
}

// ConnectionsFor returns the user's connection ids, sorted. It is empty when
// the user is offline.
func (r *Registry) ConnectionsFor(userID int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// All returns a snapshot of the registered clients.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
