package service

import "sync"

// channelLocks hands out one mutex per channel id. Entries are reference
// counted and dropped when the last holder unlocks, so idle channels cost
// nothing.
type channelLocks struct {
	mu      sync.Mutex
	entries map[uint]*channelLock
}

type channelLock struct {
	mu   sync.Mutex
	refs int
}

func newChannelLocks() *channelLocks {
	return &channelLocks{entries: make(map[uint]*channelLock)}
}

// Lock blocks until the channel's critical section is free and returns the
// matching unlock func.
func (l *channelLocks) Lock(channelID uint) func() {
	l.mu.Lock()
	e, ok := l.entries[channelID]
	if !ok {
		e = &channelLock{}
		l.entries[channelID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, channelID)
		}
		l.mu.Unlock()
	}
}

func (l *channelLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
