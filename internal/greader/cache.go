package greader

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// unreadTTL bounds how stale an unread-count response may be after a tag
// write. Tag writes clear the writer's entry immediately; writes from other
// processes converge within the TTL.
const unreadTTL = 30 * time.Second

type unreadKey struct {
	user         uuid.UUID
	includeEmpty bool
}

type unreadEntry struct {
	counts  []UnreadCount
	expires time.Time
}

// unreadCache memoizes the per-user unread tallies behind the unread-count
// endpoint. Process-local.
type unreadCache struct {
	mu      sync.RWMutex
	entries map[unreadKey]unreadEntry
}

func newUnreadCache() *unreadCache {
	return &unreadCache{entries: make(map[unreadKey]unreadEntry)}
}

func (c *unreadCache) get(key unreadKey, now time.Time) ([]UnreadCount, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || now.After(e.expires) {
		return nil, false
	}
	return e.counts, true
}

func (c *unreadCache) set(key unreadKey, counts []UnreadCount, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = unreadEntry{counts: counts, expires: now.Add(unreadTTL)}
}

// invalidate drops both variants of a user's entry.
func (c *unreadCache) invalidate(user uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, unreadKey{user: user, includeEmpty: false})
	delete(c.entries, unreadKey{user: user, includeEmpty: true})
}
