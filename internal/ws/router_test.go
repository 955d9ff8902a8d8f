package ws

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-service/internal/cluster"
	"realtime-service/internal/config"
	"realtime-service/internal/logger"
	"realtime-service/internal/models"
)

type fakeBus struct {
	mu        sync.Mutex
	published []cluster.Envelope
}

func (b *fakeBus) Publish(_ context.Context, env cluster.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, cluster.Handler) error { return nil }

func (b *fakeBus) Close() error { return nil }

func newTestRouter(bus cluster.Bus) (*Registry, *Router) {
	registry := NewRegistry()
	return registry, NewRouter(registry, bus, "node-a", logger.Nop())
}

func TestRouterJoinLeaveAreIdempotent(t *testing.T) {
	registry, router := newTestRouter(nil)
	c := testClient("c1", 1)
	require.NoError(t, registry.Register(c))

	require.NoError(t, router.Join("c1", "thread:42"))
	require.NoError(t, router.Join("c1", "thread:42"))
	assert.Equal(t, []string{"c1"}, router.SubscribersOf("thread:42"))

	router.Leave("c1", "thread:42")
	router.Leave("c1", "thread:42")
	router.Leave("c1", "thread:never")
	assert.Empty(t, router.SubscribersOf("thread:42"))
	assert.Zero(t, router.TopicCount())
}

func TestRouterJoinRequiresRegistration(t *testing.T) {
	_, router := newTestRouter(nil)
	assert.ErrorIs(t, router.Join("ghost", "thread:1"), ErrNotRegistered)
	assert.Empty(t, router.SubscribersOf("thread:1"))
}

func TestRouterPublishReachesSubscribersOnly(t *testing.T) {
	bus := &fakeBus{}
	registry, router := newTestRouter(bus)
	a, b, outsider := testClient("a", 1), testClient("b", 2), testClient("x", 3)
	for _, c := range []*Client{a, b, outsider} {
		require.NoError(t, registry.Register(c))
	}
	require.NoError(t, router.Join("a", "thread:42"))
	require.NoError(t, router.Join("b", "thread:42"))

	require.NoError(t, router.Publish(context.Background(), "thread:42", models.EventMessageNew, models.Message{ID: 1, Content: "hello"}))

	for _, c := range []*Client{a, b} {
		frames := outbox(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, models.EventMessageNew, frames[0].Event)
		assert.JSONEq(t, `{"id":1,"threadId":0,"senderId":0,"receiverId":null,"content":"hello","createdAt":"0001-01-01T00:00:00Z"}`, string(frames[0].Data))
	}
	assert.Empty(t, outbox(t, outsider))

	require.Len(t, bus.published, 1)
	assert.Equal(t, "node-a", bus.published[0].Node)
	assert.Equal(t, "thread:42", bus.published[0].Topic)
}

func TestRouterSkipsVanishedSubscribers(t *testing.T) {
	registry, router := newTestRouter(nil)
	a, b := testClient("a", 1), testClient("b", 2)
	require.NoError(t, registry.Register(a))
	require.NoError(t, registry.Register(b))
	require.NoError(t, router.Join("a", "user:9"))
	require.NoError(t, router.Join("b", "user:9"))

	// b disconnected but its teardown has not reached the router yet
	registry.Unregister("b")
	a.Close()

	require.NoError(t, router.Publish(context.Background(), "user:9", models.EventBadgeUpdate, models.BadgeDelta{Delta: 1}))
	assert.Empty(t, outbox(t, b))
}

func TestRouterClosesSlowConsumer(t *testing.T) {
	registry, router := newTestRouter(nil)
	cfg := config.Default().WS
	cfg.SendBuffer = 1
	slow := newClient("slow", nil, cfg, ConnInfo{})
	slow.bind(1)
	require.NoError(t, registry.Register(slow))
	require.NoError(t, router.Join("slow", "user:1"))

	require.NoError(t, router.Publish(context.Background(), "user:1", models.EventBadgeUpdate, models.BadgeDelta{Delta: 1}))
	require.NoError(t, router.Publish(context.Background(), "user:1", models.EventBadgeUpdate, models.BadgeDelta{Delta: 1}))

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow consumer should have been closed")
	}
}

func TestRouterDeliverIgnoresOwnEnvelopes(t *testing.T) {
	registry, router := newTestRouter(nil)
	c := testClient("c1", 1)
	require.NoError(t, registry.Register(c))
	require.NoError(t, router.Join("c1", "user:1"))

	frame, err := EncodeFrame(models.EventBadgeUpdate, models.BadgeDelta{Delta: 1})
	require.NoError(t, err)

	router.Deliver(cluster.Envelope{Node: "node-a", Topic: "user:1", Frame: frame})
	assert.Empty(t, outbox(t, c))

	router.Deliver(cluster.Envelope{Node: "node-b", Topic: "user:1", Frame: frame})
	assert.Equal(t, []string{models.EventBadgeUpdate}, events(outbox(t, c)))
}

func TestRouterDropRemovesEveryMembership(t *testing.T) {
	registry, router := newTestRouter(nil)
	c := testClient("c1", 1)
	require.NoError(t, registry.Register(c))
	for _, topic := range []string{"user:1", "thread:1", "thread:2"} {
		require.NoError(t, router.Join("c1", topic))
	}
	assert.Equal(t, []string{"thread:1", "thread:2", "user:1"}, router.TopicsOf("c1"))

	router.Drop("c1")
	assert.Empty(t, router.TopicsOf("c1"))
	assert.Zero(t, router.TopicCount())
}

// Random join/leave/drop sequences must leave exactly the net-joined,
// still-connected connections subscribed.
func TestRouterMembershipMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	registry, router := newTestRouter(nil)

	conns := make([]string, 8)
	for i := range conns {
		conns[i] = fmt.Sprintf("c%d", i)
		require.NoError(t, registry.Register(testClient(conns[i], i)))
	}
	topics := []string{"thread:1", "thread:2", "thread:3"}
	model := map[string]map[string]bool{}
	for _, topic := range topics {
		model[topic] = map[string]bool{}
	}

	for step := 0; step < 2000; step++ {
		conn := conns[rng.Intn(len(conns))]
		topic := topics[rng.Intn(len(topics))]
		switch rng.Intn(10) {
		case 0:
			registry.Unregister(conn)
			router.Drop(conn)
			for _, tp := range topics {
				delete(model[tp], conn)
			}
			require.NoError(t, registry.Register(testClient(conn, 0)))
		case 1, 2, 3, 4, 5:
			require.NoError(t, router.Join(conn, topic))
			model[topic][conn] = true
		default:
			router.Leave(conn, topic)
			delete(model[topic], conn)
		}
	}

	for _, topic := range topics {
		want := make([]string, 0, len(model[topic]))
		for conn := range model[topic] {
			want = append(want, conn)
		}
		sort.Strings(want)
		assert.Equal(t, want, router.SubscribersOf(topic), topic)
	}
}

func TestRouterConcurrentJoinAndDrop(t *testing.T) {
	registry, router := newTestRouter(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("c%d", i)
		require.NoError(t, registry.Register(testClient(id, i)))
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = router.Join(id, "thread:1")
		}()
		go func() {
			defer wg.Done()
			registry.Unregister(id)
			router.Drop(id)
		}()
	}
	wg.Wait()
	assert.Empty(t, router.SubscribersOf("thread:1"))
}
