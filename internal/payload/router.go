// Package payload implements the application layer that sits above bundle
// routing: routers track which roaming clients they can reach, exchange
// that knowledge with neighboring routers, and carry client messages to
// the routers hosting their recipients.
package payload

import (
	"context"
	"sort"

	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/model"
	"github.com/signalsfoundry/dtn-simulator/timectrl"
)

// DefaultMappingTimeout is how long a client->router mapping stays valid
// after the client's last beacon.
const DefaultMappingTimeout int64 = 50

// RouterConfig configures a RouterHandler.
type RouterConfig struct {
	Clock timectrl.SimClock
	// IDs numbers the bundles this handler originates. Shared across the
	// whole network.
	IDs            *model.IDSource
	MappingTimeout int64
	BundleLifespan int64
	Logger         logging.Logger
}

// MessageMeta describes a stored client message during a handshake.
type MessageMeta struct {
	Key       string
	ExpiresAt int64
}

// RouterStats counts a router's application-layer activity.
type RouterStats struct {
	BeaconsReceived   int64 `json:"beacons_received"`
	MappingsMerged    int64 `json:"mappings_merged"`
	MessagesStored    int64 `json:"messages_stored"`
	MessagesHandedOff int64 `json:"messages_handed_off"`
	BundlesOriginated int64 `json:"bundles_originated"`
	RawDelivered      int64 `json:"raw_delivered"`
}

// RouterState is a history snapshot of a RouterHandler.
type RouterState struct {
	RouterStats
	AwaitingTransmission int                `json:"payloads_awaiting_dtn_transmission"`
	StoredForClients     int                `json:"payloads_received_for_client"`
	Mappings             model.MappingTable `json:"router_client_mappings"`
}

// RouterHandler is the payload layer of a router node. It originates
// bundles through the node's routing protocol.
type RouterHandler struct {
	id      model.NodeID
	clock   timectrl.SimClock
	ids     *model.IDSource
	timeout int64
	life    int64
	log     logging.Logger
	sink    model.BundleHandler

	mappings model.MappingTable
	// inbox holds messages waiting for a client to pick them up.
	inbox map[string][]*model.ClientMessage
	seen  map[string]int64
	// outbox holds messages from local clients not yet sent into the
	// network because no host router is known for the recipient.
	outbox []*model.ClientMessage
	stats  RouterStats
}

// NewRouterHandler returns the payload layer of router id. Bundles it
// originates are handed to sink, normally the router's routing protocol.
func NewRouterHandler(id model.NodeID, sink model.BundleHandler, cfg RouterConfig) *RouterHandler {
	if cfg.MappingTimeout <= 0 {
		cfg.MappingTimeout = DefaultMappingTimeout
	}
	if cfg.IDs == nil {
		cfg.IDs = &model.IDSource{}
	}
	return &RouterHandler{
		id:       id,
		clock:    cfg.Clock,
		ids:      cfg.IDs,
		timeout:  cfg.MappingTimeout,
		life:     cfg.BundleLifespan,
		log:      logging.OrNoop(cfg.Logger).With(logging.Int64("router", int64(id))),
		sink:     sink,
		mappings: make(model.MappingTable),
		inbox:    make(map[string][]*model.ClientMessage),
		seen:     make(map[string]int64),
	}
}

func (r *RouterHandler) ID() model.NodeID { return r.id }

// HandleBeacon records that client is currently reachable through this
// router.
func (r *RouterHandler) HandleBeacon(client string) {
	r.stats.BeaconsReceived++
	routers, ok := r.mappings[client]
	if !ok {
		routers = make(map[model.NodeID]int64)
		r.mappings[client] = routers
	}
	routers[r.id] = r.clock.Now() + r.timeout
}

// MergeMappings folds a neighbor's table into ours, keeping the later
// expiry for every (client, router) pair.
func (r *RouterHandler) MergeMappings(table model.MappingTable) {
	r.stats.MappingsMerged++
	for client, routers := range table {
		local, ok := r.mappings[client]
		if !ok {
			local = make(map[model.NodeID]int64, len(routers))
			r.mappings[client] = local
		}
		for id, exp := range routers {
			if cur, ok := local[id]; !ok || exp > cur {
				local[id] = exp
			}
		}
	}
}

// Mappings returns a copy of the client->router table.
func (r *RouterHandler) Mappings() model.MappingTable {
	return r.mappings.Clone()
}

// HostRouters returns the routers currently believed to host client,
// ascending.
func (r *RouterHandler) HostRouters(client string) []model.NodeID {
	routers := r.mappings[client]
	out := make([]model.NodeID, 0, len(routers))
	for id := range routers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HandleClientMessage stores a message that arrived over the network for
// one of this router's clients. Copies of a message already seen are
// ignored.
func (r *RouterHandler) HandleClientMessage(ctx context.Context, msg *model.ClientMessage) {
	key := msg.Key()
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = msg.ExpiresAt
	r.inbox[msg.To] = append(r.inbox[msg.To], msg)
	r.stats.MessagesStored++
	r.log.Debug(ctx, "stored message for client",
		logging.String("client", msg.To),
		logging.String("message", key))
}

// HandleRaw counts an opaque payload that reached this router.
func (r *RouterHandler) HandleRaw(context.Context, model.RawPayload) {
	r.stats.RawDelivered++
}

// offer lists the messages waiting for client.
func (r *RouterHandler) offer(client string) []MessageMeta {
	msgs := r.inbox[client]
	out := make([]MessageMeta, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageMeta{Key: m.Key(), ExpiresAt: m.ExpiresAt})
	}
	return out
}

// take returns the requested messages for client and clears its inbox.
func (r *RouterHandler) take(client string, want map[string]struct{}) []*model.ClientMessage {
	var out []*model.ClientMessage
	for _, m := range r.inbox[client] {
		if _, ok := want[m.Key()]; ok {
			out = append(out, m)
		}
	}
	delete(r.inbox, client)
	r.stats.MessagesHandedOff += int64(len(out))
	return out
}

// accept queues messages uploaded by a client for transmission on the next
// refresh.
func (r *RouterHandler) accept(msgs []*model.ClientMessage) {
	r.outbox = append(r.outbox, msgs...)
}

// Pending returns the messages waiting for a host router to be known.
func (r *RouterHandler) Pending() []*model.ClientMessage {
	return append([]*model.ClientMessage(nil), r.outbox...)
}

// StoredFor returns the messages waiting for client.
func (r *RouterHandler) StoredFor(client string) []*model.ClientMessage {
	return append([]*model.ClientMessage(nil), r.inbox[client]...)
}

// Refresh expires stored messages and mappings, then wraps every pending
// message into one bundle per known host router of its recipient.
// Messages with no known host stay pending until they expire.
func (r *RouterHandler) Refresh(ctx context.Context, now int64) {
	for client, msgs := range r.inbox {
		kept := make([]*model.ClientMessage, 0, len(msgs))
		for _, m := range msgs {
			if m.ExpiresAt > now {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(r.inbox, client)
			continue
		}
		r.inbox[client] = kept
	}
	for key, exp := range r.seen {
		if exp <= now {
			delete(r.seen, key)
		}
	}
	for client, routers := range r.mappings {
		for id, exp := range routers {
			if exp <= now {
				delete(routers, id)
			}
		}
		if len(routers) == 0 {
			delete(r.mappings, client)
		}
	}

	pending := r.outbox
	r.outbox = nil
	for _, m := range pending {
		if m.ExpiresAt <= now {
			r.log.Debug(ctx, "dropping expired client message", logging.String("message", m.Key()))
			continue
		}
		hosts := r.HostRouters(m.To)
		if len(hosts) == 0 {
			r.outbox = append(r.outbox, m)
			continue
		}
		for _, host := range hosts {
			b := model.NewBundle(r.ids, model.BundleSpec{
				Source:   r.id,
				Dest:     host,
				Payload:  m,
				Lifespan: r.life,
			}, now)
			r.stats.BundlesOriginated++
			r.sink.HandleBundle(ctx, b)
		}
	}
}

// ShareMappings sends a copy of this router's table to each peer.
func (r *RouterHandler) ShareMappings(peers []*RouterHandler) {
	for _, p := range peers {
		if p == nil || p == r {
			continue
		}
		p.MergeMappings(r.mappings.Clone())
	}
}

// Stats returns the handler's counters.
func (r *RouterHandler) Stats() RouterStats { return r.stats }

// State snapshots the handler for history logging.
func (r *RouterHandler) State() RouterState {
	stored := 0
	for _, msgs := range r.inbox {
		stored += len(msgs)
	}
	return RouterState{
		RouterStats:          r.stats,
		AwaitingTransmission: len(r.outbox),
		StoredForClients:     stored,
		Mappings:             r.mappings.Clone(),
	}
}
