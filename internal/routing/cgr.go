package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/dtn-simulator/internal/cgr"
	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/internal/storage"
	"github.com/signalsfoundry/dtn-simulator/model"
)

const tracerName = "github.com/signalsfoundry/dtn-simulator/internal/routing"

// ContactPlanner is implemented by protocols that own a contact plan.
type ContactPlanner interface {
	AddContact(ctx context.Context, c model.Contact) (model.ContactID, error)
	RemoveAllContactsForNode(id model.NodeID) int
	RemoveContactsInWindow(a, b model.NodeID, start, end int64) int
}

// CGRNode forwards bundles along routes computed by a contact-graph router.
// Routed bundles wait in per-next-hop queues until that neighbor is
// connected; unroutable bundles are held by destination or dropped,
// depending on the configured policy.
type CGRNode struct {
	base
	router  *cgr.Router
	policy  NoRoutePolicy
	queues  map[model.NodeID][]*model.Bundle
	inQueue map[model.BundleID]model.NodeID
	held    *storage.Storage
	tracer  trace.Tracer
}

var (
	_ Protocol       = (*CGRNode)(nil)
	_ ContactPlanner = (*CGRNode)(nil)
)

// NewCGRNode builds a node whose router is seeded with cfg.Contacts.
func NewCGRNode(id model.NodeID, env Environment, cfg Config) (*CGRNode, error) {
	cfg = cfg.withDefaults()
	b := newBase(id, KindCGR, env, cfg)
	opts := append([]cgr.Option{cgr.WithLogger(b.log)}, cfg.RouterOptions...)
	router, err := cgr.NewRouterFromContacts(cfg.Contacts, opts...)
	if err != nil {
		return nil, fmt.Errorf("node %d contact plan: %w", id, err)
	}
	return &CGRNode{
		base:    b,
		router:  router,
		policy:  cfg.NoRoute,
		queues:  make(map[model.NodeID][]*model.Bundle),
		inQueue: make(map[model.BundleID]model.NodeID),
		held:    storage.New(),
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Router exposes the node's contact plan.
func (n *CGRNode) Router() *cgr.Router { return n.router }

// HeldBundles returns the bundles waiting for a route.
func (n *CGRNode) HeldBundles() []*model.Bundle { return n.held.All() }

// QueuedFor returns the bundles routed through hop and not yet sent.
func (n *CGRNode) QueuedFor(hop model.NodeID) []*model.Bundle {
	return append([]*model.Bundle(nil), n.queues[hop]...)
}

// HandleBundle accepts a bundle from a neighbor or the local payload layer.
func (n *CGRNode) HandleBundle(ctx context.Context, b *model.Bundle) {
	now := n.env.Now()
	if IsExpired(b, now) {
		n.expire(ctx, 1)
		return
	}
	if b.Dest == n.id {
		n.deliver(ctx, b)
		return
	}
	if _, ok := n.inQueue[b.ID]; ok || n.held.Contains(b.ID) {
		n.duplicate(ctx, b)
		return
	}

	route := n.bestRoute(ctx, b.Dest, now, b.Size)
	if route == nil {
		if n.policy == Drop {
			n.drop(ctx, b, "no_route")
			return
		}
		returning := n.held.SeenBefore(b.ID)
		if n.held.Store(b.Dest, b) {
			n.duplicate(ctx, b)
			return
		}
		n.log.Debug(ctx, "no route, holding bundle",
			logging.Any("bundle", uint64(b.ID)),
			logging.Int64("dest", int64(b.Dest)),
			logging.Bool("returning", returning))
		return
	}

	hop := route.NextHop()
	n.queues[hop] = append(n.queues[hop], b)
	n.inQueue[b.ID] = hop
}

// Refresh purges expired bundles, then empties the queue of every
// connected router neighbor.
func (n *CGRNode) Refresh(ctx context.Context, now int64) {
	expired := 0
	next := make(map[model.NodeID][]*model.Bundle, len(n.queues))
	for hop, q := range n.queues {
		var kept []*model.Bundle
		for _, b := range q {
			if IsExpired(b, now) {
				delete(n.inQueue, b.ID)
				expired++
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) > 0 {
			next[hop] = kept
		}
	}
	n.queues = next
	expired += len(n.held.Refresh(now))
	n.delivered.prune(now)
	n.expire(ctx, expired)

	for _, hop := range connectedRouters(n.id, n.env.Neighbors(n.id)) {
		q := n.queues[hop]
		if len(q) == 0 {
			continue
		}
		delete(n.queues, hop)
		for _, b := range q {
			delete(n.inQueue, b.ID)
		}
		n.log.Debug(ctx, "sending queued bundles",
			logging.Int64("next_hop", int64(hop)),
			logging.Int("count", len(q)))
		for _, b := range q {
			n.send(ctx, hop, b)
		}
	}
}

// AddContact extends the contact plan and then forwards every held bundle
// that has become routable. Each bundle is routed with its own size, so a
// large bundle may stay held while smaller ones for the same destination
// leave. Forwarding goes straight to the route's next hop without waiting
// for a connectivity snapshot.
func (n *CGRNode) AddContact(ctx context.Context, c model.Contact) (model.ContactID, error) {
	ctx, span := n.tracer.Start(ctx, "cgr.AddContact", trace.WithAttributes(
		attribute.Int64("dtn.node", int64(n.id)),
		attribute.Int64("dtn.contact.source", int64(c.Source)),
		attribute.Int64("dtn.contact.dest", int64(c.Dest)),
	))
	defer span.End()

	id, err := n.router.AddContact(c)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("dtn.contact.id", int64(id)))

	now := n.env.Now()
	for _, dest := range n.held.Destinations() {
		n.flush(ctx, dest, now)
	}
	return id, nil
}

func (n *CGRNode) flush(ctx context.Context, dest model.NodeID, now int64) {
	sent, expired := 0, 0
	for _, b := range n.held.BundlesFor(dest) {
		if IsExpired(b, now) {
			n.held.Remove(dest, b.ID)
			expired++
			continue
		}
		route := n.bestRoute(ctx, dest, now, b.Size)
		if route == nil {
			continue
		}
		n.held.Remove(dest, b.ID)
		n.send(ctx, route.NextHop(), b)
		sent++
	}
	n.expire(ctx, expired)
	if sent > 0 {
		n.log.Debug(ctx, "flushed held bundles",
			logging.Int64("dest", int64(dest)),
			logging.Int("count", sent),
			logging.Int("still_held", len(n.held.BundlesFor(dest))))
	}
}

// RemoveAllContactsForNode drops every contact touching id.
func (n *CGRNode) RemoveAllContactsForNode(id model.NodeID) int {
	return n.router.RemoveAllContactsForNode(id)
}

// RemoveContactsInWindow cuts [start,end) out of every contact between a
// and b.
func (n *CGRNode) RemoveContactsInWindow(a, b model.NodeID, start, end int64) int {
	return n.router.RemoveContactsInWindow(a, b, start, end)
}

// State snapshots the node's counters.
func (n *CGRNode) State() State {
	queued := n.held.Len()
	for _, q := range n.queues {
		queued += len(q)
	}
	return n.c.state(n.kind, queued)
}

// NextHops returns the next hops with queued bundles, ascending.
func (n *CGRNode) NextHops() []model.NodeID {
	out := make([]model.NodeID, 0, len(n.queues))
	for hop := range n.queues {
		out = append(out, hop)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (n *CGRNode) bestRoute(ctx context.Context, dest model.NodeID, now, size int64) *cgr.Route {
	_, span := n.tracer.Start(ctx, "cgr.BestRoute", trace.WithAttributes(
		attribute.Int64("dtn.node", int64(n.id)),
		attribute.Int64("dtn.dest", int64(dest)),
		attribute.Int64("dtn.tick", now),
	))
	defer span.End()

	start := time.Now()
	route := n.router.BestRouteForSize(n.id, dest, now, size)
	n.rec.RouteComputed(route != nil, time.Since(start))
	span.SetAttributes(
		attribute.Bool("dtn.route.found", route != nil),
		attribute.Int("dtn.route.hops", route.Len()),
	)
	return route
}
