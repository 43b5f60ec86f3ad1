package trace

import (
	"context"
	"sync"
)

// Channel is a single-slot, last-value-wins publication channel for
// snapshots. It has one writer and any number of independent
// Subscriptions. Publishing never waits for readers, and readers that fall
// behind simply see the latest value.
type Channel struct {
	mu      sync.RWMutex
	current *Snapshot
	version uint64
	changed chan struct{} // closed and replaced on every publish
}

// NewChannel returns a Channel holding an empty snapshot.
func NewChannel() *Channel {
	return &Channel{
		current: EmptySnapshot(),
		changed: make(chan struct{}),
	}
}

// Publish replaces the current snapshot and wakes every waiting
// Subscription.
func (c *Channel) Publish(s *Snapshot) {
	if s == nil {
		s = EmptySnapshot()
	}
	c.mu.Lock()
	c.current = s
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// Reset publishes an empty snapshot, marking the start of a new pass.
func (c *Channel) Reset() {
	c.Publish(EmptySnapshot())
}

// Latest returns the current snapshot.
func (c *Channel) Latest() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Version counts publishes since the Channel was created.
func (c *Channel) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Channel) load() (*Snapshot, uint64, <-chan struct{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.version, c.changed
}

// Subscribe returns a Subscription that considers the current snapshot
// already seen.
func (c *Channel) Subscribe() *Subscription {
	return &Subscription{ch: c, seen: c.Version()}
}

// Subscription is one observer's view of a Channel. A Subscription must
// not be shared between goroutines; create one per observer.
type Subscription struct {
	ch   *Channel
	seen uint64
}

// Latest returns the current snapshot and marks it seen.
func (s *Subscription) Latest() *Snapshot {
	snap, version, _ := s.ch.load()
	s.seen = version
	return snap
}

// HasChanged reports whether a snapshot newer than the last seen one has
// been published.
func (s *Subscription) HasChanged() bool {
	return s.ch.Version() != s.seen
}

// Changed waits until a snapshot newer than the last seen one is published
// and returns it. Intermediate snapshots published while the observer was
// busy are skipped.
func (s *Subscription) Changed(ctx context.Context) (*Snapshot, error) {
	for {
		snap, version, changed := s.ch.load()
		if version != s.seen {
			s.seen = version
			return snap, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
