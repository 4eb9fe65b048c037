package routing

import (
	"context"

	"github.com/signalsfoundry/dtn-simulator/model"
)

// Epidemic floods every known bundle to every connected router on every
// tick. Neighbors that already hold a bundle receive it again and count it
// as a duplicate; there is no summary-vector exchange.
type Epidemic struct {
	base
	known []*model.Bundle
	seen  idLedger
}

var _ Protocol = (*Epidemic)(nil)

// NewEpidemic returns an epidemic router for node id.
func NewEpidemic(id model.NodeID, env Environment, cfg Config) *Epidemic {
	return &Epidemic{
		base: newBase(id, KindEpidemic, env, cfg),
		seen: make(idLedger),
	}
}

// HandleBundle delivers bundles addressed to this node and remembers the
// rest for flooding.
func (e *Epidemic) HandleBundle(ctx context.Context, b *model.Bundle) {
	if IsExpired(b, e.env.Now()) {
		e.expire(ctx, 1)
		return
	}
	if b.Dest == e.id {
		e.deliver(ctx, b)
		return
	}
	if !e.seen.add(b) {
		e.duplicate(ctx, b)
		return
	}
	e.known = append(e.known, b)
}

// Known returns the bundles currently being flooded, in arrival order.
func (e *Epidemic) Known() []*model.Bundle {
	return append([]*model.Bundle(nil), e.known...)
}

// Refresh drops expired bundles and floods the rest.
func (e *Epidemic) Refresh(ctx context.Context, now int64) {
	kept := make([]*model.Bundle, 0, len(e.known))
	for _, b := range e.known {
		if !IsExpired(b, now) {
			kept = append(kept, b)
		}
	}
	e.expire(ctx, len(e.known)-len(kept))
	e.known = kept
	e.seen.prune(now)
	e.delivered.prune(now)

	for _, hop := range connectedRouters(e.id, e.env.Neighbors(e.id)) {
		// Sending can re-enter HandleBundle through the payload layer, so
		// iterate over the snapshot taken above.
		for _, b := range kept {
			e.send(ctx, hop, b)
		}
	}
}

func (e *Epidemic) State() State {
	return e.c.state(e.kind, len(e.known))
}
