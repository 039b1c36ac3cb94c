// Package ordercache implements the order-history cache of spec §6's "Local
// cache" mention, supplemented with a concrete 24h TTL and a
// robfig/cron/v3-scheduled eviction sweep rather than a bare map.
package ordercache

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shopping-copilot/core/internal/observability"
	"github.com/shopping-copilot/core/internal/schema"
)

// TTL is the fixed cache lifetime for a cached order, per spec §6.
const TTL = 24 * time.Hour

// sweepSchedule runs the eviction sweep every 10 minutes; frequent enough
// that an entry is never more than ~10 minutes past its TTL, without
// running a sweep on every tick of a 1-minute clock.
const sweepSchedule = "@every 10m"

type entry struct {
	order     schema.OrderDetail
	expiresAt time.Time
}

// Cache is an in-memory, TTL-evicted cache of recently-seen orders, keyed
// by order ID.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	cron    *cron.Cron
	entryID cron.EntryID
}

// New constructs a Cache and starts its background eviction sweep.
func New() *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		cron:    cron.New(),
	}
	id, err := c.cron.AddFunc(sweepSchedule, c.sweep)
	if err != nil {
		// AddFunc only fails on a malformed schedule literal, which would be
		// a programming error in sweepSchedule above, not a runtime
		// condition callers need to handle.
		observability.Log().Error("ordercache: invalid sweep schedule", observability.F("error", err.Error()))
	} else {
		c.entryID = id
	}
	c.cron.Start()
	return c
}

// Put caches order under its ID, refreshing the TTL.
func (c *Cache) Put(order schema.OrderDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[order.OrderID] = entry{order: order, expiresAt: time.Now().Add(TTL)}
}

// Get returns the cached order for id, if present and unexpired.
func (c *Cache) Get(id string) (schema.OrderDetail, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok || time.Now().After(e.expiresAt) {
		return schema.OrderDetail{}, false
	}
	return e.order, true
}

// Len returns the number of entries currently cached, including any not
// yet swept past their TTL.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
		}
	}
}

// Close stops the background eviction sweep.
func (c *Cache) Close() {
	if c.entryID != 0 {
		c.cron.Remove(c.entryID)
	}
	ctx := c.cron.Stop()
	<-ctx.Done()
}
