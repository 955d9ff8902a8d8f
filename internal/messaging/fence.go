package messaging

import (
	"slices"
	"sync"
)

// userFence orders counter changes against counter snapshots for a user.
// Anything that changes a user's counter and publishes the matching delta
// holds the user's fence shared across both steps; a snapshot that is about
// to be sent to a new connection holds it exclusively. A delta is therefore
// either contained in the snapshot and queued before it, or queued after it
// and not contained in it.
//
// Deltas arriving from other nodes through the cluster bus are not covered.
type userFence struct {
	mu    sync.Mutex
	users map[int]*fenceEntry
}

type fenceEntry struct {
	rw   sync.RWMutex
	refs int
}

// counterFence is shared by every counter writer in the process.
var counterFence = newUserFence()

func newUserFence() *userFence {
	return &userFence{users: make(map[int]*fenceEntry)}
}

// shared takes the fence of every user in userIDs for reading. Users are
// locked in ascending order so two writers never wait on each other.
func (f *userFence) shared(userIDs ...int) func() {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	entries := make([]*fenceEntry, len(ids))
	for i, id := range ids {
		entries[i] = f.ref(id)
		entries[i].rw.RLock()
	}
	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].rw.RUnlock()
			f.unref(ids[i], entries[i])
		}
	}
}

// exclusive takes the user's fence for writing.
func (f *userFence) exclusive(userID int) func() {
	e := f.ref(userID)
	e.rw.Lock()
	return func() {
		e.rw.Unlock()
		f.unref(userID, e)
	}
}

func (f *userFence) ref(userID int) *fenceEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.users[userID]
	if !ok {
		e = &fenceEntry{}
		f.users[userID] = e
	}
	e.refs++
	return e
}

func (f *userFence) unref(userID int, e *fenceEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(f.users, userID)
	}
}

func (f *userFence) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}
