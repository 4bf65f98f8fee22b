package acars

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// dedupCacheSize bounds each per-source dedup cache.
	dedupCacheSize = 10000

	// dedupTTL is how long a content hash suppresses duplicates.
	dedupTTL = 30 * time.Second
)

// Deduper suppresses duplicate messages per source within a short TTL.
// Two decoders listening on overlapping frequencies routinely deliver the
// same transmission twice; the content hash collapses them.
type Deduper struct {
	mu     sync.Mutex
	caches map[Source]*expirable.LRU[string, struct{}]
	ttl    time.Duration
	size   int
}

// NewDeduper creates a deduplicator with the default cache size and TTL.
func NewDeduper() *Deduper {
	return &Deduper{
		caches: make(map[Source]*expirable.LRU[string, struct{}]),
		ttl:    dedupTTL,
		size:   dedupCacheSize,
	}
}

// IsDuplicate checks and records the message's content hash. The first
// sighting of a hash returns false and installs it; any repeat within the
// TTL returns true.
func (d *Deduper) IsDuplicate(msg *Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cache, ok := d.caches[msg.Source]
	if !ok {
		cache = expirable.NewLRU[string, struct{}](d.size, nil, d.ttl)
		d.caches[msg.Source] = cache
	}

	key := msg.DedupKey()
	if _, hit := cache.Get(key); hit {
		return true
	}
	cache.Add(key, struct{}{})
	return false
}
