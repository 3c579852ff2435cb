// Package capability holds short-lived per-conversation send capabilities
// and the one-shot waiters that receive them from gateway callbacks.
package capability

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long an observed capability is trusted locally.
const DefaultTTL = 270 * time.Second

// Kind says which reply field a capability token authorizes.
type Kind string

const (
	KindEventID Kind = "event_id" // from an interaction callback
	KindMsgID   Kind = "msg_id"   // from an inbound content message
)

// ChatType selects the official send endpoint family.
type ChatType string

const (
	ChatGroup ChatType = "group"
	ChatC2C   ChatType = "c2c"
)

// Entry is one cached capability. Entries are replaced whole, never edited.
type Entry struct {
	ConversationKey string    `json:"conversation_key"`
	Token           string    `json:"token"`
	Kind            Kind      `json:"kind"`
	BoundID         string    `json:"bound_id"`
	ChatType        ChatType  `json:"chat_type"`
	AcquiredAt      time.Time `json:"acquired_at"`
}

// Cache maps conversation keys to capability entries with lazy TTL eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache. A non-positive ttl uses DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the entry for key. Expired entries are evicted and reported missing.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(e.AcquiredAt) >= c.ttl {
		delete(c.entries, key)
		return Entry{}, false
	}
	return e, true
}

// Put overwrites the entry for key. A zero AcquiredAt is stamped with the current time.
func (c *Cache) Put(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.ConversationKey = key
	if e.AcquiredAt.IsZero() {
		e.AcquiredAt = c.now()
	}
	c.entries[key] = e
}

// Invalidate drops key. Absent keys are ignored.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len counts entries, including ones that have expired but not been read since.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot returns the live entries, evicting expired ones on the way.
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]Entry, 0, len(c.entries))
	for k, e := range c.entries {
		if now.Sub(e.AcquiredAt) >= c.ttl {
			delete(c.entries, k)
			continue
		}
		out = append(out, e)
	}
	return out
}
