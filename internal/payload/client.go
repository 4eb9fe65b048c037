package payload

import (
	"context"
	"sort"

	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/model"
	"github.com/signalsfoundry/dtn-simulator/timectrl"
)

// ClientStats counts a client's message exchange.
type ClientStats struct {
	Composed int64   `json:"composed"`
	Sent     int64   `json:"sent"`
	Received int64   `json:"received"`
	Latency  []int64 `json:"latency,omitempty"`
}

// ClientState is a history snapshot of a ClientHandler.
type ClientState struct {
	ClientStats
	Outbox      int `json:"outbox"`
	ReceivedIDs int `json:"received_ids"`
}

// ClientHandler is the payload layer of a roaming client. Clients never
// route bundles; they exchange messages with whichever router they are in
// contact with through Handshake.
type ClientHandler struct {
	id       string
	node     model.NodeID
	clock    timectrl.SimClock
	lifespan int64
	log      logging.Logger

	nextDrop int64
	outbox   []*model.ClientMessage
	// received holds message keys until their expiry. Messages this client
	// wrote are recorded too so they are never fetched back.
	received map[string]int64
	stats    ClientStats
}

// NewClientHandler returns the payload layer for client id running on node.
func NewClientHandler(id string, node model.NodeID, clock timectrl.SimClock, lifespan int64, log logging.Logger) *ClientHandler {
	if lifespan <= 0 {
		lifespan = model.DefaultBundleLifespan
	}
	return &ClientHandler{
		id:       id,
		node:     node,
		clock:    clock,
		lifespan: lifespan,
		log:      logging.OrNoop(log).With(logging.String("client", id)),
		received: make(map[string]int64),
	}
}

func (c *ClientHandler) ID() string           { return c.id }
func (c *ClientHandler) NodeID() model.NodeID { return c.node }

// Compose writes a new message to another client and queues it.
func (c *ClientHandler) Compose(to string, body []byte) *model.ClientMessage {
	now := c.clock.Now()
	c.nextDrop++
	msg := &model.ClientMessage{
		DropID:    c.nextDrop,
		From:      c.id,
		To:        to,
		CreatedAt: now,
		ExpiresAt: now + c.lifespan,
		Body:      body,
	}
	c.stats.Composed++
	c.Store(msg)
	return msg
}

// Store queues msg for upload on the next handshake.
func (c *ClientHandler) Store(msg *model.ClientMessage) {
	c.outbox = append(c.outbox, msg)
	c.received[msg.Key()] = msg.ExpiresAt
}

// Record marks key as received until expiresAt.
func (c *ClientHandler) Record(key string, expiresAt int64) {
	c.received[key] = expiresAt
}

// Queued reports whether a message with key is waiting for upload.
func (c *ClientHandler) Queued(key string) bool {
	for _, m := range c.outbox {
		if m.Key() == key {
			return true
		}
	}
	return false
}

// HasReceived reports whether key is in the received ledger.
func (c *ClientHandler) HasReceived(key string) bool {
	_, ok := c.received[key]
	return ok
}

// Handshake runs the six-step exchange with a router in contact:
//
//  1. the client asks for the messages waiting for it;
//  2. the router lists them;
//  3. the client picks the ones it has not received;
//  4. the router hands them over and clears its store for the client;
//  5. the client records them and uploads its outbox;
//  6. the router queues the uploads for transmission.
//
// Connectivity must be checked by the caller.
func (c *ClientHandler) Handshake(ctx context.Context, r *RouterHandler) {
	offered := r.offer(c.id)

	want := make(map[string]struct{}, len(offered))
	for _, meta := range offered {
		if _, ok := c.received[meta.Key]; !ok {
			want[meta.Key] = struct{}{}
		}
	}

	got := r.take(c.id, want)
	now := c.clock.Now()
	for _, m := range got {
		c.received[m.Key()] = m.ExpiresAt
		c.stats.Received++
		c.stats.Latency = append(c.stats.Latency, now-m.CreatedAt)
		c.log.Debug(ctx, "message received",
			logging.String("message", m.Key()),
			logging.Int64("router", int64(r.ID())))
	}

	if len(c.outbox) > 0 {
		r.accept(c.outbox)
		c.stats.Sent += int64(len(c.outbox))
		c.outbox = nil
	}
}

// Refresh drops expired outgoing messages and ledger entries.
func (c *ClientHandler) Refresh(now int64) {
	kept := make([]*model.ClientMessage, 0, len(c.outbox))
	for _, m := range c.outbox {
		if m.ExpiresAt > now {
			kept = append(kept, m)
		}
	}
	c.outbox = kept
	for key, exp := range c.received {
		if exp <= now {
			delete(c.received, key)
		}
	}
}

// ReceivedKeys returns the ledger keys, sorted.
func (c *ClientHandler) ReceivedKeys() []string {
	out := make([]string, 0, len(c.received))
	for k := range c.received {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *ClientHandler) Stats() ClientStats { return c.stats }

func (c *ClientHandler) State() ClientState {
	return ClientState{
		ClientStats: c.stats,
		Outbox:      len(c.outbox),
		ReceivedIDs: len(c.received),
	}
}
