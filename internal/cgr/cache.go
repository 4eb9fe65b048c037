package cgr

import (
	"sync"

	"github.com/signalsfoundry/dtn-simulator/model"
)

type routeKey struct {
	src, dst model.NodeID
	now      int64
	size     int64
}

// RouteCache memoizes best-route answers within a single tick. Entries for
// other ticks are dropped as soon as a query for a new tick arrives, and
// every contact-plan mutation clears the cache. A nil *RouteCache is a valid,
// always-missing cache.
type RouteCache struct {
	mu       sync.Mutex
	tick     int64
	routes   map[routeKey]*Route
	gen      uint64
	hits     int64
	misses   int64
	invalids int64
}

// NewRouteCache returns an empty cache.
func NewRouteCache() *RouteCache {
	return &RouteCache{routes: make(map[routeKey]*Route)}
}

// Get returns a copy of the cached route for key. A cached nil route (no
// route exists) is reported as found.
func (c *RouteCache) Get(key routeKey) (*Route, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollTo(key.now)
	route, ok := c.routes[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return route.Clone(), true
}

// Generation identifies the current plan version. Read it under the
// router's lock before searching and hand it back to Put.
func (c *RouteCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Put stores route for key if the plan has not changed since gen.
func (c *RouteCache) Put(key routeKey, route *Route, gen uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.rollTo(key.now)
	c.routes[key] = route.Clone()
}

// InvalidateAll drops every entry.
func (c *RouteCache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.routes = make(map[routeKey]*Route)
	c.gen++
	c.invalids++
	c.mu.Unlock()
}

// Stats returns hit, miss and invalidation counts.
func (c *RouteCache) Stats() (hits, misses, invalids int64) {
	if c == nil {
		return 0, 0, 0
	}
	c.mu.Lock()
	hits, misses, invalids = c.hits, c.misses, c.invalids
	c.mu.Unlock()
	return
}

// rollTo must be called with c.mu held.
func (c *RouteCache) rollTo(tick int64) {
	if tick != c.tick {
		c.tick = tick
		if len(c.routes) > 0 {
			c.routes = make(map[routeKey]*Route)
		}
	}
}
