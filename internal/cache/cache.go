// Package cache provides a TTL-bounded in-memory store for preview query
// results. It sits in front of read-heavy declaration queries issued by the
// UI and is invalidated explicitly when tracking data changes.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL is how long a cached entry stays valid.
const DefaultTTL = 5 * time.Minute

// Entry holds one cached query result. Entries are never mutated in place;
// Set replaces the entry for a key wholesale.
type Entry struct {
	Data      []map[string]interface{}
	CreatedAt time.Time
	FilterKey string
}

// QueryCache is a thread-safe pass-through cache keyed by filter digest.
// There is no capacity eviction: entries leave only through TTL expiry or
// explicit invalidation.
type QueryCache struct {
	entries map[string]Entry
	ttl     time.Duration
	mu      sync.RWMutex
	log     zerolog.Logger

	// now is swappable for tests
	now func() time.Time
}

// New creates a query cache with the default TTL.
func New(log zerolog.Logger) *QueryCache {
	return NewWithTTL(DefaultTTL, log)
}

// NewWithTTL creates a query cache with a custom TTL.
func NewWithTTL(ttl time.Duration, log zerolog.Logger) *QueryCache {
	return &QueryCache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		log:     log.With().Str("component", "query_cache").Logger(),
		now:     time.Now,
	}
}

// GenerateKey produces a deterministic digest for a set of filter parameters.
// The same filters always yield the same key, regardless of map iteration
// order, across cache instances and process restarts.
func GenerateKey(filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(filters[k])
		sb.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%x", sum[:16])
}

// Get returns the entry for a key if it exists and has not expired.
// An expired entry is treated as absent but is not evicted here.
func (c *QueryCache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(entry.CreatedAt) >= c.ttl {
		return Entry{}, false
	}
	return entry, true
}

// Set stores or replaces the entry for a key, stamped with the current time.
func (c *QueryCache) Set(key string, data []map[string]interface{}, filterKey string) {
	c.mu.Lock()
	c.entries[key] = Entry{
		Data:      data,
		CreatedAt: c.now(),
		FilterKey: filterKey,
	}
	c.mu.Unlock()

	c.log.Debug().Str("key", key).Int("rows", len(data)).Msg("Cache entry stored")
}

// IsValid reports whether an unexpired entry exists for the key.
func (c *QueryCache) IsValid(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Invalidate removes one entry by key.
func (c *QueryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll clears the entire cache.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	count := len(c.entries)
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	if count > 0 {
		c.log.Debug().Int("entries", count).Msg("Cache cleared")
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
