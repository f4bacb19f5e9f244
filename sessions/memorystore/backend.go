// Package memorystore keeps sessions in process memory. Every Store attached
// to the same Backend behaves like another tab of the same browser.
package memorystore

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-session/sessions"
)

var _ sessions.Backend = (*Backend)(nil)

type Backend struct {
	sessions.LocalBus
	values map[string]string
	lock   sync.RWMutex
}

func New() *Backend {
	return &Backend{values: make(map[string]string)}
}

func (b *Backend) Get(_ context.Context, key string) (string, bool, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *Backend) Set(_ context.Context, key, value string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.values[key] = value
	return nil
}

func (b *Backend) Delete(_ context.Context, keys ...string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, k := range keys {
		delete(b.values, k)
	}
	return nil
}

// Len is the number of stored keys.
func (b *Backend) Len() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.values)
}
