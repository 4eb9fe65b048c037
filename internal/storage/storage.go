// Package storage holds bundles that are waiting for a route, keyed by
// destination.
package storage

import (
	"sort"

	"github.com/signalsfoundry/dtn-simulator/model"
)

// Storage is a per-node buffer of bundles keyed by destination. Each
// destination's bundles leave in the order they were stored. A Storage is
// owned by exactly one node and is not safe for concurrent use.
//
// No destination key maps to an empty queue.
type Storage struct {
	queues map[model.NodeID][]*model.Bundle
	// seen remembers every stored ID until that bundle's expiry so owners
	// can tell a returning bundle from a new one.
	seen map[model.BundleID]int64
}

// New returns an empty storage.
func New() *Storage {
	return &Storage{
		queues: make(map[model.NodeID][]*model.Bundle),
		seen:   make(map[model.BundleID]int64),
	}
}

// Store appends b to the queue for dest. It reports true, and stores
// nothing, when a bundle with the same ID is currently queued. A bundle
// that left storage may be stored again.
func (s *Storage) Store(dest model.NodeID, b *model.Bundle) (duplicate bool) {
	if s.Contains(b.ID) {
		return true
	}
	s.seen[b.ID] = b.ExpiresAt
	s.queues[dest] = append(s.queues[dest], b)
	return false
}

// SeenBefore reports whether a bundle with id was ever stored and has not
// yet expired.
func (s *Storage) SeenBefore(id model.BundleID) bool {
	_, ok := s.seen[id]
	return ok
}

// Contains reports whether a bundle with id is currently queued.
func (s *Storage) Contains(id model.BundleID) bool {
	for _, q := range s.queues {
		for _, b := range q {
			if b.ID == id {
				return true
			}
		}
	}
	return false
}

// NextBundleFor returns the bundle at the front of dest's queue, or nil.
//
// Passing the bundle returned by the previous call as after removes it
// first, so callers drain a queue with
//
//	for b := s.NextBundleFor(dest, nil); b != nil; b = s.NextBundleFor(dest, b) { ... }
func (s *Storage) NextBundleFor(dest model.NodeID, after *model.Bundle) *model.Bundle {
	q, ok := s.queues[dest]
	if !ok {
		return nil
	}
	if after != nil && q[0].ID == after.ID {
		q = q[1:]
	}
	if len(q) == 0 {
		delete(s.queues, dest)
		return nil
	}
	s.queues[dest] = q
	return q[0]
}

// BundlesFor returns a copy of dest's queue.
func (s *Storage) BundlesFor(dest model.NodeID) []*model.Bundle {
	q := s.queues[dest]
	if len(q) == 0 {
		return nil
	}
	return append([]*model.Bundle(nil), q...)
}

// Remove takes the bundle with id out of dest's queue and reports whether
// it was there.
func (s *Storage) Remove(dest model.NodeID, id model.BundleID) bool {
	q := s.queues[dest]
	for i, b := range q {
		if b.ID != id {
			continue
		}
		q = append(q[:i:i], q[i+1:]...)
		if len(q) == 0 {
			delete(s.queues, dest)
		} else {
			s.queues[dest] = q
		}
		return true
	}
	return false
}

// RemoveAllFor removes and returns dest's queue.
func (s *Storage) RemoveAllFor(dest model.NodeID) []*model.Bundle {
	q := s.queues[dest]
	delete(s.queues, dest)
	return q
}

// Destinations returns every destination with queued bundles, ascending.
func (s *Storage) Destinations() []model.NodeID {
	out := make([]model.NodeID, 0, len(s.queues))
	for dest := range s.queues {
		out = append(out, dest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// All returns every queued bundle, grouped by ascending destination.
func (s *Storage) All() []*model.Bundle {
	var out []*model.Bundle
	for _, dest := range s.Destinations() {
		out = append(out, s.queues[dest]...)
	}
	return out
}

// Len returns the number of queued bundles.
func (s *Storage) Len() int {
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Refresh evicts every bundle whose expiration is <= now and returns the
// evicted bundles. Queues are rebuilt rather than edited in place.
func (s *Storage) Refresh(now int64) []*model.Bundle {
	var expired []*model.Bundle
	next := make(map[model.NodeID][]*model.Bundle, len(s.queues))
	for _, dest := range s.Destinations() {
		var kept []*model.Bundle
		for _, b := range s.queues[dest] {
			if b.Expired(now) {
				expired = append(expired, b)
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) > 0 {
			next[dest] = kept
		}
	}
	s.queues = next

	for id, exp := range s.seen {
		if exp <= now {
			delete(s.seen, id)
		}
	}
	return expired
}
