// Package cgr implements contact-graph routing over a node's contact plan.
package cgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/dtn-simulator/core"
	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/model"
)

// ErrContactNotFound is returned when removing a contact ID that is not in
// the plan.
var ErrContactNotFound = errors.New("contact not found")

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Router) { r.log = logging.OrNoop(l) }
}

// WithoutCache disables route memoization.
func WithoutCache() Option {
	return func(r *Router) { r.cache = nil }
}

// Router owns one node's view of the contact plan and answers best-route
// queries against it. It is safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	contacts []model.Contact // ascending ID
	nextID   model.ContactID
	cache    *RouteCache
	log      logging.Logger
}

// NewRouter returns a router with an empty contact plan.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		cache: NewRouteCache(),
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRouterFromContacts returns a router preloaded with contacts. Each
// contact keeps its source ID when that ID is free; otherwise it receives
// the next unused one.
func NewRouterFromContacts(contacts []model.Contact, opts ...Option) (*Router, error) {
	r := NewRouter(opts...)
	var errs []error
	for _, c := range contacts {
		if _, err := r.insert(c, true); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRouterFromFile loads a contact-plan file once at construction. An
// empty path yields an empty plan.
func NewRouterFromFile(ctx context.Context, path string, opts ...Option) (*Router, error) {
	if path == "" {
		return NewRouter(opts...), nil
	}
	contacts, report, err := core.LoadContacts(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRouterFromContacts(contacts, opts...)
	if err != nil {
		return nil, err
	}
	for _, w := range report.Warnings {
		r.log.Warn(ctx, "contact plan warning", logging.String("path", path), logging.String("warning", w))
	}
	r.log.Info(ctx, "contact plan loaded", logging.String("path", path), logging.Int("contacts", len(contacts)))
	return r, nil
}

// AddContact inserts c into the plan and returns its ID. The ID field of c
// is ignored. Adding a contact identical to one already present is a no-op
// that returns the existing ID.
func (r *Router) AddContact(c model.Contact) (model.ContactID, error) {
	return r.insert(c, false)
}

func (r *Router) insert(c model.Contact, keepID bool) (model.ContactID, error) {
	if err := validate(c); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.contacts {
		if existing.SameLink(c) {
			return existing.ID, nil
		}
	}
	if !keepID || r.indexOf(c.ID) >= 0 || c.ID < 0 {
		c.ID = r.nextID
	}
	if c.ID >= r.nextID {
		r.nextID = c.ID + 1
	}
	r.contacts = append(r.contacts, c)
	sort.Slice(r.contacts, func(i, j int) bool { return r.contacts[i].ID < r.contacts[j].ID })
	r.cache.InvalidateAll()
	return c.ID, nil
}

func validate(c model.Contact) error {
	switch {
	case c.Start >= c.End:
		return fmt.Errorf("%w: %v start %d is not before end %d", core.ErrInvalidContact, c, c.Start, c.End)
	case c.Rate <= 0:
		return fmt.Errorf("%w: %v rate %g must be positive", core.ErrInvalidContact, c, c.Rate)
	case c.OWLT < 0:
		return fmt.Errorf("%w: %v owlt %d is negative", core.ErrInvalidContact, c, c.OWLT)
	case c.Confidence < 0 || c.Confidence > 1:
		return fmt.Errorf("%w: %v confidence %g outside [0,1]", core.ErrInvalidContact, c, c.Confidence)
	}
	return nil
}

// indexOf must be called with r.mu held.
func (r *Router) indexOf(id model.ContactID) int {
	i := sort.Search(len(r.contacts), func(i int) bool { return r.contacts[i].ID >= id })
	if i < len(r.contacts) && r.contacts[i].ID == id {
		return i
	}
	return -1
}

// RemoveContact deletes the contact with the given ID.
func (r *Router) RemoveContact(id model.ContactID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrContactNotFound, id)
	}
	r.contacts = append(r.contacts[:i:i], r.contacts[i+1:]...)
	r.cache.InvalidateAll()
	return nil
}

// RemoveAllContactsForNode deletes every contact that starts or ends at id
// and returns how many were removed.
func (r *Router) RemoveAllContactsForNode(id model.NodeID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]model.Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		if !c.Touches(id) {
			kept = append(kept, c)
		}
	}
	removed := len(r.contacts) - len(kept)
	r.contacts = kept
	if removed > 0 {
		r.cache.InvalidateAll()
	}
	return removed
}

// RemoveContactsInWindow cuts [start,end) out of every contact between a and
// b, in both directions. Contacts entirely inside the window disappear; a
// contact straddling the window is split and the later piece gets a new ID.
// It returns how many contacts were changed or removed.
func (r *Router) RemoveContactsInWindow(a, b model.NodeID, start, end int64) int {
	if start >= end {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]model.Contact, 0, len(r.contacts))
	changed := 0
	for _, c := range r.contacts {
		if !c.Between(a, b) || !overlaps(c.Start, c.End, start, end) {
			kept = append(kept, c)
			continue
		}
		changed++
		pieces := subtractWindow(c, start, end)
		for i, p := range pieces {
			if i > 0 {
				p.ID = r.nextID
				r.nextID++
			}
			kept = append(kept, p)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })
	r.contacts = kept
	if changed > 0 {
		r.cache.InvalidateAll()
	}
	return changed
}

// HasContactTo reports whether any contact ends at id.
func (r *Router) HasContactTo(id model.NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.contacts {
		if c.Dest == id {
			return true
		}
	}
	return false
}

// HasContact reports whether a contact from src to dst exists at any time.
func (r *Router) HasContact(src, dst model.NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.contacts {
		if c.Source == src && c.Dest == dst {
			return true
		}
	}
	return false
}

// HasContactInWindow reports whether a contact from src to dst overlaps
// [start,end).
func (r *Router) HasContactInWindow(src, dst model.NodeID, start, end int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.contacts {
		if c.Source == src && c.Dest == dst && overlaps(c.Start, c.End, start, end) {
			return true
		}
	}
	return false
}

// Contacts returns a snapshot of the plan ordered by ID.
func (r *Router) Contacts() []model.Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Contact, len(r.contacts))
	copy(out, r.contacts)
	return out
}

// Len returns the number of contacts in the plan.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contacts)
}

// CacheStats exposes route cache counters.
func (r *Router) CacheStats() (hits, misses, invalids int64) {
	return r.cache.Stats()
}

// BestRoute returns the earliest-arrival route for a zero-length bundle
// from src to dst at tick now, or nil when none exists.
func (r *Router) BestRoute(src, dst model.NodeID, now int64) *Route {
	return r.BestRouteForSize(src, dst, now, 0)
}

// BestRouteForSize is BestRoute for a bundle of size bytes; transmission
// time on each contact is size/rate rounded up to whole ticks.
func (r *Router) BestRouteForSize(src, dst model.NodeID, now, size int64) *Route {
	if src == dst {
		return nil
	}
	key := routeKey{src: src, dst: dst, now: now, size: size}
	if route, ok := r.cache.Get(key); ok {
		return route
	}

	r.mu.RLock()
	gen := r.cache.Generation()
	route := search(r.contacts, src, dst, now, size)
	r.mu.RUnlock()

	r.cache.Put(key, route, gen)
	return route.Clone()
}
