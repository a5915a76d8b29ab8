// Package cache implements the expiring key-value store shared by the
// enrichment pipeline. Each enrichment kind (image descriptions, voice
// transcriptions, user personas) owns its own Cache instance with its own
// TTL, so key namespaces never collide across kinds.
package cache

import (
	"log/slog"
	"sync"
	"time"
)

// sweepInterval is how often the background sweep removes physically
// expired entries. Correctness never depends on the sweep: every read
// checks expiry itself.
const sweepInterval = time.Minute

// Logging toggles the four observability events independently. Disabled
// events are neither logged nor counted; they never affect returned values.
type Logging struct {
	Entries bool `yaml:"log_entries"`
	Hits    bool `yaml:"log_hits"`
	Misses  bool `yaml:"log_misses"`
	Purges  bool `yaml:"log_purges"`
}

// Stats holds cumulative observability counters.
type Stats struct {
	Entries uint64
	Hits    uint64
	Misses  uint64
	Purges  uint64
}

type entry struct {
	value     string
	expiresAt time.Time
}

// Cache is a TTL key-value store. The zero value is not usable; create
// instances with New. All methods are safe for concurrent use.
type Cache struct {
	ttl     time.Duration
	logging Logging
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
	stats   Stats

	// now is swapped in tests to simulate clock advancement.
	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a cache whose entries expire ttl after they are written and
// starts the background sweep. Call Stop when the cache is no longer needed.
func New(name string, ttl time.Duration, logging Logging, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		ttl:     ttl,
		logging: logging,
		logger:  logger.With("component", "cache", "cache", name),
		entries: make(map[string]entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Stop cancels the background sweep. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Put stores value under key. An existing entry is overwritten and its
// expiry is reset to now + TTL.
func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttl)}
	c.stats.Entries++
	c.mu.Unlock()

	if c.logging.Entries {
		c.logger.Info("cached entry", "key", key)
	}
}

// Get returns the value for key if it exists and has not expired. Expired
// entries behave as misses even before the sweep has removed them.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	live := ok && c.now().Before(e.expiresAt)
	if live {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	if live {
		if c.logging.Hits {
			c.logger.Info("cache hit", "key", key)
		}
		return e.value, true
	}
	if c.logging.Misses {
		c.logger.Info("cache miss", "key", key)
	}
	return "", false
}

// Contains reports whether a live entry exists for key. Unlike Get it does
// not record a hit/miss observation, so a Contains followed by Get counts
// as a single lookup.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && c.now().Before(e.expiresAt)
}

// Len returns the number of physically present entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the observability counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep removes physically expired entries.
func (c *Cache) sweep() {
	var purged []string
	c.mu.Lock()
	now := c.now()
	for key, e := range c.entries {
		if e.expiresAt.Before(now) {
			delete(c.entries, key)
			c.stats.Purges++
			purged = append(purged, key)
		}
	}
	c.mu.Unlock()

	if c.logging.Purges {
		for _, key := range purged {
			c.logger.Info("purged expired entry", "key", key)
		}
	}
}
