package routing

import (
	"context"
	"errors"
	"sort"

	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/kb"
	"github.com/signalsfoundry/dtn-simulator/model"
)

// IsExpired reports whether b may no longer be delivered or retained at now.
func IsExpired(b *model.Bundle, now int64) bool {
	return b.Expired(now)
}

// counters backs State for every protocol.
type counters struct {
	sends      int64
	duplicates int64
	deliveries int64
	dropped    int64
	expired    int64
	latencies  []int64
}

func (c *counters) state(kind Kind, queued int) State {
	return State{
		Kind:              kind.String(),
		Sends:             c.sends,
		DuplicateReceives: c.duplicates,
		Deliveries:        c.deliveries,
		Queued:            int64(queued),
		Dropped:           c.dropped,
		Expired:           c.expired,
		DeliveryLatencies: append([]int64(nil), c.latencies...),
	}
}

// idLedger remembers bundle IDs until their expiry.
type idLedger map[model.BundleID]int64

// add records b and reports false if it was already present.
func (l idLedger) add(b *model.Bundle) bool {
	if _, ok := l[b.ID]; ok {
		return false
	}
	l[b.ID] = b.ExpiresAt
	return true
}

func (l idLedger) has(id model.BundleID) bool {
	_, ok := l[id]
	return ok
}

func (l idLedger) prune(now int64) {
	for id, exp := range l {
		if exp <= now {
			delete(l, id)
		}
	}
}

// base holds what every protocol shares.
type base struct {
	id        model.NodeID
	kind      Kind
	env       Environment
	log       logging.Logger
	rec       Recorder
	c         counters
	delivered idLedger
}

func newBase(id model.NodeID, kind Kind, env Environment, cfg Config) base {
	cfg = cfg.withDefaults()
	return base{
		id:        id,
		kind:      kind,
		env:       env,
		log:       cfg.Logger.With(logging.Int64("node", int64(id)), logging.String("protocol", kind.String())),
		rec:       cfg.Recorder,
		delivered: make(idLedger),
	}
}

func (b *base) NodeID() model.NodeID { return b.id }
func (b *base) Kind() Kind           { return b.kind }

// deliver hands a bundle addressed to this node to the application layer.
// A bundle ID is delivered at most once; repeats count as duplicates.
func (b *base) deliver(ctx context.Context, bundle *model.Bundle) {
	if !b.delivered.add(bundle) {
		b.duplicate(ctx, bundle)
		return
	}
	latency := b.env.Now() - bundle.CreatedAt
	b.c.deliveries++
	b.c.latencies = append(b.c.latencies, latency)
	b.rec.BundleDelivered(b.kind, b.id, latency)
	b.log.Debug(ctx, "bundle delivered",
		logging.Any("bundle", uint64(bundle.ID)),
		logging.Int64("latency", latency))
	b.env.DeliverPayload(ctx, b.id, bundle)
}

func (b *base) duplicate(ctx context.Context, bundle *model.Bundle) {
	b.c.duplicates++
	b.rec.BundleDuplicate(b.kind, b.id)
	b.log.Debug(ctx, "duplicate bundle", logging.Any("bundle", uint64(bundle.ID)))
}

func (b *base) drop(ctx context.Context, bundle *model.Bundle, reason string) {
	b.c.dropped++
	b.rec.BundleDropped(b.kind, b.id, reason)
	b.log.Debug(ctx, "bundle dropped",
		logging.Any("bundle", uint64(bundle.ID)),
		logging.String("reason", reason))
}

func (b *base) expire(ctx context.Context, n int) {
	if n == 0 {
		return
	}
	b.c.expired += int64(n)
	b.rec.BundlesExpired(b.kind, b.id, n)
	b.log.Debug(ctx, "bundles expired", logging.Int("count", n))
}

// send hands bundle to node to. It reports false when the node cannot be
// resolved; the bundle is then counted as dropped.
func (b *base) send(ctx context.Context, to model.NodeID, bundle *model.Bundle) bool {
	h, err := b.env.Resolve(to)
	if err != nil {
		level := b.log.Warn
		if !errors.Is(err, kb.ErrUnknownNode) {
			level = b.log.Error
		}
		level(ctx, "cannot forward bundle", logging.Int64("next_hop", int64(to)), logging.Err(err))
		b.drop(ctx, bundle, "unknown_next_hop")
		return false
	}
	b.c.sends++
	b.rec.BundleSent(b.kind, b.id)
	h.HandleBundle(ctx, bundle.ForwardedBy(b.id))
	return true
}

// connectedRouters filters a neighbor snapshot down to connected
// router-role nodes, in ascending ID order.
func connectedRouters(self model.NodeID, snapshot []Neighbor) []model.NodeID {
	out := make([]model.NodeID, 0, len(snapshot))
	for _, n := range snapshot {
		if n.ID == self || !n.Connected || n.Role != model.RoleRouter {
			continue
		}
		out = append(out, n.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
