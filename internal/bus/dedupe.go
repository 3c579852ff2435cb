package bus

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupeCache remembers recently seen event ids. The gateway may replay
// dispatches after a RESUME; each id is processed once.
type DedupeCache struct {
	seen *expirable.LRU[string, struct{}]
}

// NewDedupeCache keeps up to maxSize ids for ttl.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{seen: expirable.NewLRU[string, struct{}](maxSize, nil, ttl)}
}

// IsDuplicate reports whether key was seen within the TTL, recording it if not.
// Empty keys are never duplicates.
func (d *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	if d.seen.Contains(key) {
		return true
	}
	d.seen.Add(key, struct{}{})
	return false
}

// Len counts remembered ids.
func (d *DedupeCache) Len() int { return d.seen.Len() }
