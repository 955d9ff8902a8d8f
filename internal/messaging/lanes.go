package messaging

import (
	"context"
	"sync"
)

// lanes serialises work per key. A lane exists only while someone holds or
// waits for it.
type lanes struct {
	mu    sync.Mutex
	lanes map[int]*lane
}

type lane struct {
	slot chan struct{}
	refs int
}

func newLanes() *lanes {
	return &lanes{lanes: make(map[int]*lane)}
}

// acquire blocks until the lane for key is free or ctx is done. The returned
// func releases the lane.
func (l *lanes) acquire(ctx context.Context, key int) (func(), error) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{slot: make(chan struct{}, 1)}
		l.lanes[key] = ln
	}
	ln.refs++
	l.mu.Unlock()

	select {
	case ln.slot <- struct{}{}:
		return func() {
			<-ln.slot
			l.release(key, ln)
		}, nil
	case <-ctx.Done():
		l.release(key, ln)
		return nil, ctx.Err()
	}
}

func (l *lanes) release(key int, ln *lane) {
	l.mu.Lock()
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
	l.mu.Unlock()
}

func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}
