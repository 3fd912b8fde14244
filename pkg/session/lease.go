package session

import (
	"context"
	"sync"
)

// Leases serializes turns per session. Turns of different sessions never wait
// on each other.
type Leases struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLeases() *Leases {
	return &Leases{slots: make(map[string]*slot)}
}

// Acquire blocks until the caller holds the session exclusively or ctx ends.
// The returned func releases the lease and must be called exactly once.
func (l *Leases) Acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[sessionID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[sessionID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(sessionID, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(sessionID, s)
		})
	}, nil
}

func (l *Leases) drop(sessionID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 && l.slots[sessionID] == s {
		delete(l.slots, sessionID)
	}
}

// Held returns the number of sessions with a turn in flight or waiting.
func (l *Leases) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
