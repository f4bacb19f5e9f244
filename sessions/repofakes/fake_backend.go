package repofakes

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/memorystore"
)

var _ sessions.Backend = (*FakeBackend)(nil)

// ErrQuotaExceeded is returned by a FakeBackend with failing writes.
var ErrQuotaExceeded = errors.New("quota exceeded")

// FakeBackend is an in-memory backend whose reads and writes can be made to
// fail, standing in for private-mode or full storage.
type FakeBackend struct {
	*memorystore.Backend
	failReads  bool
	failWrites bool
	dropWrites bool
	lock       sync.RWMutex
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{Backend: memorystore.New()}
}

// FailWrites makes Set and Delete return ErrQuotaExceeded.
func (f *FakeBackend) FailWrites(fail bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.failWrites = fail
}

// DropWrites makes Set report success without storing anything.
func (f *FakeBackend) DropWrites(drop bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.dropWrites = drop
}

// FailReads makes Get return ErrQuotaExceeded.
func (f *FakeBackend) FailReads(fail bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.failReads = fail
}

func (f *FakeBackend) Get(ctx context.Context, key string) (string, bool, error) {
	f.lock.RLock()
	fail := f.failReads
	f.lock.RUnlock()
	if fail {
		return "", false, ErrQuotaExceeded
	}
	return f.Backend.Get(ctx, key)
}

func (f *FakeBackend) Set(ctx context.Context, key, value string) error {
	f.lock.RLock()
	fail, drop := f.failWrites, f.dropWrites
	f.lock.RUnlock()
	if fail {
		return ErrQuotaExceeded
	}
	if drop {
		return nil
	}
	return f.Backend.Set(ctx, key, value)
}

func (f *FakeBackend) Delete(ctx context.Context, keys ...string) error {
	f.lock.RLock()
	fail := f.failWrites
	f.lock.RUnlock()
	if fail {
		return ErrQuotaExceeded
	}
	return f.Backend.Delete(ctx, keys...)
}
