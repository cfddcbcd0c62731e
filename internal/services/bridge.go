package services

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/pkg/config"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

type bridgeEntry struct {
	key     string
	value   models.ResultBundle
	expires time.Time
}

// ResultBridge hands analysis results from the submission flow to the
// results view. Entries live in process memory only, expire after a TTL and
// are evicted least-recently-used once the entry limit is reached.
type ResultBridge struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	order *list.List // front is most recently used
	items map[string]*list.Element
}

// NewResultBridge creates a bridge with the configured TTL and size limit.
// A non-positive value disables that bound.
func NewResultBridge(cfg *config.BridgeConfig) *ResultBridge {
	return &ResultBridge{
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        time.Now,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// NewKey returns a fresh, time-ordered result key.
func NewKey() string {
	return ulid.Make().String()
}

// Put stores value under key, replacing any previous value and renewing its
// TTL.
func (b *ResultBridge) Put(key string, value models.ResultBundle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expires time.Time
	if b.ttl > 0 {
		expires = b.now().Add(b.ttl)
	}

	if el, ok := b.items[key]; ok {
		entry := el.Value.(*bridgeEntry)
		entry.value = value
		entry.expires = expires
		b.order.MoveToFront(el)
		return
	}

	b.items[key] = b.order.PushFront(&bridgeEntry{key: key, value: value, expires: expires})

	for b.maxEntries > 0 && b.order.Len() > b.maxEntries {
		oldest := b.order.Back()
		b.removeElement(oldest)
		log.Debug().Str("key", oldest.Value.(*bridgeEntry).key).Msg("Evicted least recently used result")
	}
	bridgeEntries.Set(float64(b.order.Len()))
}

// Get returns the value under key. Expired entries are dropped and reported
// missing.
func (b *ResultBridge) Get(key string) (models.ResultBundle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.lookup(key)
	if !ok {
		return models.ResultBundle{}, false
	}
	b.order.MoveToFront(el)
	return el.Value.(*bridgeEntry).value, true
}

// Take returns the value under key and removes it. Consumers call Take so
// results do not outlive their view.
func (b *ResultBridge) Take(key string) (models.ResultBundle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.lookup(key)
	if !ok {
		return models.ResultBundle{}, false
	}
	b.removeElement(el)
	bridgeEntries.Set(float64(b.order.Len()))
	return el.Value.(*bridgeEntry).value, true
}

// Delete removes key. Deleting a missing key is a no-op.
func (b *ResultBridge) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.items[key]; ok {
		b.removeElement(el)
		bridgeEntries.Set(float64(b.order.Len()))
	}
}

// Len returns the number of entries, including expired ones not yet swept.
func (b *ResultBridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order.Len()
}

// Sweep removes every expired entry and returns how many were removed.
func (b *ResultBridge) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for el := b.order.Back(); el != nil; {
		prev := el.Prev()
		if b.expired(el.Value.(*bridgeEntry), now) {
			b.removeElement(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		bridgeEntries.Set(float64(b.order.Len()))
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (b *ResultBridge) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("Swept expired results")
			}
		}
	}
}

// lookup must be called with b.mu held.
func (b *ResultBridge) lookup(key string) (*list.Element, bool) {
	el, ok := b.items[key]
	if !ok {
		return nil, false
	}
	if b.expired(el.Value.(*bridgeEntry), b.now()) {
		b.removeElement(el)
		bridgeEntries.Set(float64(b.order.Len()))
		return nil, false
	}
	return el, true
}

func (b *ResultBridge) expired(e *bridgeEntry, now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

func (b *ResultBridge) removeElement(el *list.Element) {
	b.order.Remove(el)
	delete(b.items, el.Value.(*bridgeEntry).key)
}
