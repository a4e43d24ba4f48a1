package chat

import (
	"sync"

	"github.com/google/uuid"
)

// channelLocks hands out one mutex per channel. A mutation holds its channel's
// mutex from before the commit until its event is handed to the publisher, so
// a channel's events reach the fanout in commit order. Unused entries are
// dropped.
type channelLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*channelLock
}

type channelLock struct {
	mu   sync.Mutex
	refs int
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: make(map[uuid.UUID]*channelLock)}
}

// lock blocks until the channel is free and returns the matching unlock.
func (l *channelLocks) lock(channelID uuid.UUID) func() {
	l.mu.Lock()
	cl, ok := l.locks[channelID]
	if !ok {
		cl = &channelLock{}
		l.locks[channelID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()

		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, channelID)
		}
		l.mu.Unlock()
	}
}

func (l *channelLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
