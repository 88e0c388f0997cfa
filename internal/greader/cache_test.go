package greader

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreadCacheTTL(t *testing.T) {
	cache := newUnreadCache()
	user := uuid.New()
	key := unreadKey{user: user}
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	counts := []UnreadCount{{ID: "feed/1", Count: 3, Newest: "1700000000000000"}}

	_, ok := cache.get(key, now)
	assert.False(t, ok)

	cache.set(key, counts, now)

	got, ok := cache.get(key, now.Add(unreadTTL-time.Second))
	require.True(t, ok)
	assert.Equal(t, counts, got)

	_, ok = cache.get(key, now.Add(unreadTTL+time.Second))
	assert.False(t, ok)
}

func TestUnreadCacheKeyedByIncludeEmpty(t *testing.T) {
	cache := newUnreadCache()
	user := uuid.New()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	cache.set(unreadKey{user: user, includeEmpty: false}, []UnreadCount{{ID: "feed/1", Count: 1}}, now)

	_, ok := cache.get(unreadKey{user: user, includeEmpty: true}, now)
	assert.False(t, ok)
}

func TestUnreadCacheInvalidate(t *testing.T) {
	cache := newUnreadCache()
	alice, bob := uuid.New(), uuid.New()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	cache.set(unreadKey{user: alice, includeEmpty: false}, []UnreadCount{{ID: "feed/1", Count: 1}}, now)
	cache.set(unreadKey{user: alice, includeEmpty: true}, []UnreadCount{{ID: "feed/1", Count: 1}}, now)
	cache.set(unreadKey{user: bob, includeEmpty: false}, []UnreadCount{{ID: "feed/2", Count: 5}}, now)

	cache.invalidate(alice)

	_, ok := cache.get(unreadKey{user: alice, includeEmpty: false}, now)
	assert.False(t, ok)
	_, ok = cache.get(unreadKey{user: alice, includeEmpty: true}, now)
	assert.False(t, ok)

	// Other users keep their entries.
	_, ok = cache.get(unreadKey{user: bob, includeEmpty: false}, now)
	assert.True(t, ok)
}
