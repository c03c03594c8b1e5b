package batch

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

// cacheEntry is one cached generation result with its access bookkeeping.
type cacheEntry struct {
	key            string
	result         schemas.GenerationResult
	createdAt      time.Time
	accessCount    int
	lastAccessedAt time.Time
}

// resultCache holds generated identities keyed by (filter signature, index).
// Entries expire after the TTL supplied per lookup; a background sweep
// removes expired entries on the instance TTL and LRU-evicts down to maxSize.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
	clock   func() time.Time
	logger  *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func newResultCache(ttl time.Duration, maxSize int, sweepEvery time.Duration, clock func() time.Time, logger *zap.Logger) *resultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	c := &resultCache{
		entries:  make(map[string]*cacheEntry),
		ttl:      ttl,
		maxSize:  maxSize,
		clock:    clock,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.sweepLoop(sweepEvery)
	return c
}

// get returns a live entry, bumping its access stats. ttl overrides the
// instance TTL for this lookup when positive; expired entries are dropped on
// sight.
func (c *resultCache) get(key string, ttl time.Duration) (schemas.GenerationResult, bool) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return schemas.GenerationResult{}, false
	}
	now := c.clock()
	if now.Sub(entry.createdAt) > ttl {
		delete(c.entries, key)
		return schemas.GenerationResult{}, false
	}
	entry.accessCount++
	entry.lastAccessedAt = now
	return entry.result, true
}

func (c *resultCache) put(key string, result schemas.GenerationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	c.entries[key] = &cacheEntry{
		key:            key,
		result:         result,
		createdAt:      now,
		lastAccessedAt: now,
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *resultCache) sweepLoop(every time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			return
		}
	}
}

// sweep removes TTL-expired entries, then evicts the least recently accessed
// entries until the cache is at or under maxSize.
func (c *resultCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	expired := 0
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.ttl {
			delete(c.entries, key)
			expired++
		}
	}

	evicted := 0
	if overflow := len(c.entries) - c.maxSize; overflow > 0 {
		oldest := make([]*cacheEntry, 0, len(c.entries))
		for _, entry := range c.entries {
			oldest = append(oldest, entry)
		}
		sort.Slice(oldest, func(i, j int) bool {
			return oldest[i].lastAccessedAt.Before(oldest[j].lastAccessedAt)
		})
		for _, entry := range oldest[:overflow] {
			delete(c.entries, entry.key)
			evicted++
		}
	}

	if expired > 0 || evicted > 0 {
		c.logger.Debug("Cache sweep complete",
			zap.Int("expired", expired),
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(c.entries)))
	}
}

// stop terminates the sweep loop and waits for it to exit. Safe to call more
// than once.
func (c *resultCache) stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}
