package services

import (
	"context"
	"sync"
	"time"

	"pideck/internal/models"
)

// DefaultHostInfoTTL is how long hostname, OS, kernel and boot time are
// reused before the source is asked again.
const DefaultHostInfoTTL = time.Minute

// HostInfoCache holds the last host facts with a TTL. A failed refresh
// keeps serving the stale value when there is one.
type HostInfoCache struct {
	mu        sync.RWMutex
	source    MetricSource
	clock     Clock
	ttl       time.Duration
	info      models.HostInfo
	fetchedAt time.Time
	valid     bool
}

func NewHostInfoCache(source MetricSource, ttl time.Duration, clock Clock) *HostInfoCache {
	if ttl <= 0 {
		ttl = DefaultHostInfoTTL
	}
	return &HostInfoCache{source: source, ttl: ttl, clock: orSystemClock(clock)}
}

// isCacheValid checks if cache is still valid
func (c *HostInfoCache) isCacheValid(now time.Time) bool {
	return c.valid && now.Sub(c.fetchedAt) < c.ttl
}

// Get returns cached facts if valid, otherwise fetches fresh.
func (c *HostInfoCache) Get(ctx context.Context) (models.HostInfo, error) {
	now := c.clock.Now()

	c.mu.RLock()
	if c.isCacheValid(now) {
		defer c.mu.RUnlock()
		return c.info, nil
	}
	c.mu.RUnlock()

	// Fetch outside the lock so readers are never blocked by a slow source.
	info, err := c.source.HostInfo(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.valid {
			return c.info, nil
		}
		return models.HostInfo{}, err
	}
	c.info = info
	c.fetchedAt = now
	c.valid = true

	return info, nil
}

// Clear drops the cached value.
func (c *HostInfoCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.info = models.HostInfo{}
}
