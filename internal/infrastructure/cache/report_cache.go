package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ReportCacheStats holds hit and miss counters for monitoring
type ReportCacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

type reportEntry struct {
	value     []byte
	expiresAt time.Time
}

// InMemoryReportCache is a bounded TTL cache of encoded reports, partitioned
// by tenant. When full, the entry closest to expiry is evicted.
type InMemoryReportCache struct {
	mu          sync.Mutex
	tenants     map[uuid.UUID]map[string]reportEntry
	generations map[uuid.UUID]int64
	size        int
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewInMemoryReportCache creates a cache holding at most maxEntries reports for ttl each
func NewInMemoryReportCache(ttl time.Duration, maxEntries int) *InMemoryReportCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &InMemoryReportCache{
		tenants:     make(map[uuid.UUID]map[string]reportEntry),
		generations: make(map[uuid.UUID]int64),
		maxEntries:  maxEntries,
		ttl:         ttl,
		now:         time.Now,
	}
}

// Get returns the cached report, if present and fresh
func (c *InMemoryReportCache) Get(ctx context.Context, tenantID uuid.UUID, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tenants[tenantID][key]
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.remove(tenantID, key)
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return entry.value, true, nil
}

// Set stores a report for the cache TTL
func (c *InMemoryReportCache) Set(ctx context.Context, tenantID uuid.UUID, key string, value []byte) error {
	return c.SetWithTTL(ctx, tenantID, key, value, c.ttl)
}

// SetWithTTL stores a report with an explicit TTL
func (c *InMemoryReportCache) SetWithTTL(ctx context.Context, tenantID uuid.UUID, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.set(tenantID, key, value, ttl)
	return nil
}

// Generation returns the tenant's invalidation counter
func (c *InMemoryReportCache) Generation(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.generations[tenantID], nil
}

// SetIfCurrent stores the report only if the tenant has not been invalidated
// since gen was read
func (c *InMemoryReportCache) SetIfCurrent(ctx context.Context, tenantID uuid.UUID, gen int64, key string, value []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[tenantID] != gen {
		return false, nil
	}
	c.set(tenantID, key, value, c.ttl)
	return true, nil
}

// set stores an entry. Caller holds mu.
func (c *InMemoryReportCache) set(tenantID uuid.UUID, key string, value []byte, ttl time.Duration) {
	if _, exists := c.tenants[tenantID][key]; !exists {
		if c.size >= c.maxEntries {
			c.evict()
		}
		c.size++
	}
	entries, ok := c.tenants[tenantID]
	if !ok {
		entries = make(map[string]reportEntry)
		c.tenants[tenantID] = entries
	}
	entries[key] = reportEntry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(ttl),
	}
}

// InvalidateTenant drops every report of the tenant
func (c *InMemoryReportCache) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.size -= len(c.tenants[tenantID])
	delete(c.tenants, tenantID)
	c.generations[tenantID]++
	return nil
}

// Stats returns cache statistics
func (c *InMemoryReportCache) Stats() ReportCacheStats {
	c.mu.Lock()
	size := c.size
	c.mu.Unlock()

	return ReportCacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: size,
	}
}

// evict removes expired entries, or the one expiring soonest if none are. Caller holds mu.
func (c *InMemoryReportCache) evict() {
	now := c.now()
	var (
		victimTenant uuid.UUID
		victimKey    string
		victimExp    time.Time
		found        bool
		expired      int
	)
	for tenantID, entries := range c.tenants {
		for key, entry := range entries {
			if !now.Before(entry.expiresAt) {
				c.remove(tenantID, key)
				expired++
				continue
			}
			if !found || entry.expiresAt.Before(victimExp) {
				victimTenant, victimKey, victimExp, found = tenantID, key, entry.expiresAt, true
			}
		}
	}
	if expired == 0 && found {
		c.remove(victimTenant, victimKey)
	}
}

func (c *InMemoryReportCache) remove(tenantID uuid.UUID, key string) {
	entries := c.tenants[tenantID]
	if _, ok := entries[key]; !ok {
		return
	}
	delete(entries, key)
	c.size--
	if len(entries) == 0 {
		delete(c.tenants, tenantID)
	}
}
