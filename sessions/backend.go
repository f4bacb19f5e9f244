package sessions

import (
	"context"
	"sync"
)

// Backend is durable key/value storage shared by every Store that represents
// the same user agent. Values written through one Store must be readable by
// all others, and events published by one must reach all subscribers.
// Delete removes all of its keys atomically.
type Backend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error

	// Publish broadcasts a change to every subscriber, including those of
	// the publishing Store.
	Publish(ctx context.Context, event Event) error
	// Subscribe registers fn for change events until unsubscribe is called.
	Subscribe(fn func(Event)) (unsubscribe func(), err error)
}

// Event announces that a Store wrote or cleared the session.
type Event struct {
	Origin  string `json:"origin"`  // ID of the Store that made the change
	Present bool   `json:"present"` // False for a clear
}

// LocalBus fans events out to subscribers in the same process. Backends
// without a native broadcast channel embed it.
type LocalBus struct {
	subscribers map[uint64]func(Event)
	next        uint64
	mu          sync.RWMutex
}

func (b *LocalBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
	return nil
}

func (b *LocalBus) Subscribe(fn func(Event)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers == nil {
		b.subscribers = make(map[uint64]func(Event))
	}
	id := b.next
	b.next++
	b.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}, nil
}
