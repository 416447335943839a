package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kjstillabower/city-weather-proxy/internal/models"
)

// Entry is one stored snapshot and the time it was stored.
// Freshness is decided by the caller from StoredAt, not by the store.
type Entry struct {
	Snapshot models.WeatherSnapshot `json:"snapshot"`
	StoredAt time.Time              `json:"storedAt"`
}

// Age returns how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return e.Age(now) < ttl
}

// Cache is the storage behind the weather lookup path. Set overwrites any previous
// entry for key; ttl is a retention hint after which the store may drop the entry.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}

// Key returns the cache key for a city id.
func Key(cityID int) string {
	return "weather_" + strconv.Itoa(cityID)
}

// InMemoryCache implements Cache with a mutex-guarded map.
// Entries past their retention are removed lazily on Get.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]memEntry
	now  func() time.Time
}

type memEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]memEntry),
		now:  time.Now,
	}
}

// Get returns the entry for key. Returns (zero, false, nil) on miss or when retention has passed.
func (c *InMemoryCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}

	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Another goroutine may have replaced it while we were unlocked.
		if cur, ok := c.data[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return Entry{}, false, nil
	}

	e.entry.Snapshot = e.entry.Snapshot.Clone()
	return e.entry, true, nil
}

// Set stores entry under key, replacing any prior entry.
func (c *InMemoryCache) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	entry.Snapshot = entry.Snapshot.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = memEntry{
		entry:     entry,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of physically stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
