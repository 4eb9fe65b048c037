package routing

import (
	"context"

	"github.com/signalsfoundry/dtn-simulator/model"
)

type sprayEntry struct {
	bundle *model.Bundle
	copies int
	// sprayed holds the relays this node already handed copies to.
	sprayed map[model.NodeID]struct{}
	done    bool
}

// SprayAndWait bounds flooding with a per-bundle copy budget. While a node
// holds more than one copy it sprays relays it has not sprayed before; with
// a single copy left it waits and forwards only to the destination itself.
type SprayAndWait struct {
	base
	mode    SprayMode
	initial int
	entries []*sprayEntry
	seen    idLedger
}

var _ Protocol = (*SprayAndWait)(nil)

// NewSprayAndWait returns a spray-and-wait router for node id.
func NewSprayAndWait(id model.NodeID, env Environment, cfg Config) *SprayAndWait {
	cfg = cfg.withDefaults()
	return &SprayAndWait{
		base:    newBase(id, KindSprayAndWait, env, cfg),
		mode:    cfg.SprayMode,
		initial: cfg.SprayCopies,
		seen:    make(idLedger),
	}
}

// HandleBundle delivers bundles addressed to this node and takes custody of
// the rest. A bundle without a copy count is being originated here and
// receives the configured budget.
func (s *SprayAndWait) HandleBundle(ctx context.Context, b *model.Bundle) {
	if IsExpired(b, s.env.Now()) {
		s.expire(ctx, 1)
		return
	}
	if b.Dest == s.id {
		s.deliver(ctx, b)
		return
	}
	if !s.seen.add(b) {
		s.duplicate(ctx, b)
		return
	}
	copies := b.Copies
	if copies <= 0 {
		copies = s.initial
	}
	e := &sprayEntry{bundle: b, copies: copies, sprayed: make(map[model.NodeID]struct{})}
	if b.HasPrevHop {
		e.sprayed[b.PrevHop] = struct{}{}
	}
	s.entries = append(s.entries, e)
}

// Copies returns the remaining copy count for id, or 0 when the bundle is
// not held.
func (s *SprayAndWait) Copies(id model.BundleID) int {
	for _, e := range s.entries {
		if e.bundle.ID == id && !e.done {
			return e.copies
		}
	}
	return 0
}

// Refresh drops expired bundles, hands bundles to destinations in contact
// and sprays the remaining budget.
func (s *SprayAndWait) Refresh(ctx context.Context, now int64) {
	kept := make([]*sprayEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if !IsExpired(e.bundle, now) {
			kept = append(kept, e)
		}
	}
	s.expire(ctx, len(s.entries)-len(kept))
	s.entries = kept
	s.seen.prune(now)
	s.delivered.prune(now)

	for _, hop := range connectedRouters(s.id, s.env.Neighbors(s.id)) {
		for _, e := range kept {
			if e.done {
				continue
			}
			if e.bundle.Dest == hop {
				e.done = true
				s.send(ctx, hop, e.bundle.WithCopies(1))
				continue
			}
			if e.copies <= 1 {
				continue
			}
			if _, ok := e.sprayed[hop]; ok {
				continue
			}
			give := 1
			if s.mode == SprayBinary {
				give = e.copies / 2
			}
			e.copies -= give
			e.sprayed[hop] = struct{}{}
			s.send(ctx, hop, e.bundle.WithCopies(give))
		}
	}

	// HandleBundle may have appended entries while we were sending.
	live := make([]*sprayEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.done {
			live = append(live, e)
		}
	}
	s.entries = live
}

func (s *SprayAndWait) State() State {
	return s.c.state(s.kind, len(s.entries))
}
