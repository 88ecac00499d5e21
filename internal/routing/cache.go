package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/domain"
)

// Cache wraps a Client with a tiny in-memory route cache keyed by coords.
type Cache struct {
	next Client

	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	route domain.RouteInfo
	ts    time.Time
}

// NewCache wraps next with a route cache using the provided TTL.
func NewCache(next Client, ttl time.Duration) *Cache {
	return &Cache{next: next, store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b domain.Location) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(l domain.Location) string {
	return fmt.Sprintf("%.6f,%.6f", l.Latitude, l.Longitude)
}

func (c *Cache) Route(ctx context.Context, from, to domain.Location) (*domain.RouteInfo, error) {
	k := keyFor(from, to)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok {
		if time.Since(e.ts) <= c.ttl {
			cp := e.route
			return &cp, nil
		}
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
	}

	route, err := c.next.Route(ctx, from, to)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.store[k] = cacheEntry{route: *route, ts: time.Now()}
	c.mu.Unlock()
	return route, nil
}
