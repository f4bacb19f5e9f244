package pipeline

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// LedgerEntry tracks the failed attempts of one request signature.
type LedgerEntry struct {
	Attempts  int
	NextDelay time.Duration
}

// Ledger counts 5xx attempts per request signature (method and URL). Entries
// are removed when a request finishes; abandoned ones expire after the TTL.
type Ledger struct {
	cache     *ttlcache.Cache[string, LedgerEntry]
	baseDelay time.Duration
	lock      sync.Mutex
}

func NewLedger(baseDelay, ttl time.Duration) *Ledger {
	return &Ledger{
		cache:     ttlcache.New(ttlcache.WithTTL[string, LedgerEntry](ttl)),
		baseDelay: baseDelay,
	}
}

// Signature is the ledger key of a request.
func Signature(method, url string) string {
	return method + " " + url
}

// Record counts a failed attempt and returns the updated entry. NextDelay is
// 2^Attempts times the base delay.
func (l *Ledger) Record(signature string) LedgerEntry {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.cache.DeleteExpired()
	var entry LedgerEntry
	if item := l.cache.Get(signature); item != nil {
		entry = item.Value()
	}
	entry.Attempts++
	entry.NextDelay = l.baseDelay * time.Duration(1<<entry.Attempts)
	l.cache.Set(signature, entry, ttlcache.DefaultTTL)
	return entry
}

func (l *Ledger) Get(signature string) (LedgerEntry, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	item := l.cache.Get(signature)
	if item == nil {
		return LedgerEntry{}, false
	}
	return item.Value(), true
}

// Forget drops the entry once a request succeeds or gives up.
func (l *Ledger) Forget(signature string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.cache.Delete(signature)
}

func (l *Ledger) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.cache.DeleteExpired()
	return l.cache.Len()
}
