package messaging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"realtime-service/internal/models"
	"realtime-service/internal/repositories/memory"
)

type published struct {
	Topic   string
	Event   string
	Payload any
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(_ context.Context, topic, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{Topic: topic, Event: event, Payload: payload})
	return nil
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

func (r *recorder) on(topic, event string) []published {
	var out []published
	for _, e := range r.all() {
		if e.Topic == topic && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// seedThread creates a thread between the given users and asserts its id.
func seedThread(t *testing.T, store *memory.Store, users ...int) models.Thread {
	t.Helper()
	thread, err := store.CreateThread(context.Background(), users)
	require.NoError(t, err)
	return thread
}
