package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/NikhilSetiya/textbook-assistant/pkg/resilience"
)

// Config holds in-memory cache configuration
type Config struct {
	TTL     time.Duration `json:"ttl"`
	MaxSize int           `json:"max_size"`
}

// DefaultConfig returns a 5 minute TTL and 100 entries
func DefaultConfig() Config {
	return Config{
		TTL:     5 * time.Minute,
		MaxSize: 100,
	}
}

type entry struct {
	value     interface{}
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// TimedCache is a bounded key/value store whose entries expire after a TTL.
// Overflow evicts the oldest-inserted entry; reads never change that order.
// Expired entries are reported absent but stay until overwritten or evicted.
type TimedCache struct {
	mu      sync.Mutex
	items   *simplelru.LRU[string, entry]
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewTimedCache creates a cache; zero fields take the defaults
func NewTimedCache(config Config) *TimedCache {
	defaults := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}

	// Only fails for a non-positive size, which was ruled out above.
	items, _ := simplelru.NewLRU[string, entry](config.MaxSize, nil)

	return &TimedCache{
		items:   items,
		ttl:     config.TTL,
		maxSize: config.MaxSize,
		now:     time.Now,
	}
}

// Get returns the live value stored under key
func (c *TimedCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items.Peek(key)
	if !ok || e.expired(c.now()) {
		c.misses++
		return nil, false
	}

	c.hits++
	return e.value, true
}

// Put stores value under key, replacing any previous entry
func (c *TimedCache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.items.Add(key, entry{value: value, createdAt: c.now(), ttl: c.ttl}) {
		c.evictions++
	}
}

// Clear removes all entries
func (c *TimedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Purge()
}

// Len returns the number of stored entries, expired ones included
func (c *TimedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.items.Len()
}

// Stats reports size and hit counters
func (c *TimedCache) Stats() resilience.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := resilience.CacheStats{
		Size:      c.items.Len(),
		MaxSize:   c.maxSize,
		TTL:       c.ttl.String(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}
