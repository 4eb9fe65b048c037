package model

import (
	"fmt"
	"sync/atomic"
)

// DefaultBundleLifespan is how many ticks a bundle lives before it expires.
const DefaultBundleLifespan int64 = 200

// BundleID uniquely identifies a bundle for the lifetime of a run. All
// deduplication and removal logic compares IDs, never bundle contents.
type BundleID uint64

// Bundle is the unit of data transfer between DTN nodes.
//
// A Bundle is treated as immutable once created. Hop-local metadata that
// travels with a forwarded copy (remaining spray copies, the previous hop)
// is set on a shallow copy via WithCopies and ForwardedBy, so the same
// BundleID may appear with different metadata at different nodes.
type Bundle struct {
	ID         BundleID
	Source     NodeID
	Dest       NodeID
	Payload    Payload
	CreatedAt  int64
	ExpiresAt  int64
	Size       int64
	Copies     int
	PrevHop    NodeID
	HasPrevHop bool
}

// Expired reports whether the bundle is no longer deliverable at tick now.
// A bundle whose expiration equals now is already expired.
func (b *Bundle) Expired(now int64) bool {
	return b == nil || b.ExpiresAt <= now
}

// WithCopies returns a copy of b carrying the given spray copy count.
func (b *Bundle) WithCopies(copies int) *Bundle {
	out := *b
	out.Copies = copies
	return &out
}

// ForwardedBy returns a copy of b recording hop as its previous hop.
func (b *Bundle) ForwardedBy(hop NodeID) *Bundle {
	out := *b
	out.PrevHop = hop
	out.HasPrevHop = true
	return &out
}

func (b *Bundle) String() string {
	if b == nil {
		return "bundle(nil)"
	}
	return fmt.Sprintf("bundle(%d %d->%d exp=%d)", b.ID, b.Source, b.Dest, b.ExpiresAt)
}

// IDSource hands out monotonically increasing bundle IDs. The zero value is
// ready to use and starts at 1.
type IDSource struct {
	next atomic.Uint64
}

// Next returns a fresh ID.
func (s *IDSource) Next() BundleID {
	return BundleID(s.next.Add(1))
}

// BundleSpec carries the caller-controlled fields of a new bundle.
type BundleSpec struct {
	Source   NodeID
	Dest     NodeID
	Payload  Payload
	Lifespan int64 // ticks; <= 0 uses DefaultBundleLifespan
}

// NewBundle creates a bundle at tick now with an ID drawn from ids.
func NewBundle(ids *IDSource, spec BundleSpec, now int64) *Bundle {
	lifespan := spec.Lifespan
	if lifespan <= 0 {
		lifespan = DefaultBundleLifespan
	}
	var size int64
	if spec.Payload != nil {
		size = spec.Payload.Size()
	}
	return &Bundle{
		ID:        ids.Next(),
		Source:    spec.Source,
		Dest:      spec.Dest,
		Payload:   spec.Payload,
		CreatedAt: now,
		ExpiresAt: now + lifespan,
		Size:      size,
	}
}
