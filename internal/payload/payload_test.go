package payload

import (
	"context"
	"testing"

	"github.com/signalsfoundry/dtn-simulator/model"
	"github.com/signalsfoundry/dtn-simulator/timectrl"
)

type recordingSink struct {
	bundles []*model.Bundle
}

func (s *recordingSink) HandleBundle(_ context.Context, b *model.Bundle) {
	s.bundles = append(s.bundles, b)
}

func newRouter(id model.NodeID, clock timectrl.SimClock) (*RouterHandler, *recordingSink) {
	sink := &recordingSink{}
	return NewRouterHandler(id, sink, RouterConfig{Clock: clock, MappingTimeout: 10, BundleLifespan: 30}), sink
}

func TestClientOutboxExpiresAfterLifespan(t *testing.T) {
	clock := timectrl.NewManualClock(10)
	const lifespan = 5
	c := NewClientHandler("rover", 100, clock, lifespan, nil)

	msg := c.Compose("base", []byte("hello"))
	if !c.Queued(msg.Key()) {
		t.Fatalf("message should be queued right after composing")
	}
	clock.Step(lifespan + 1)
	c.Refresh(clock.Now())
	if c.Queued(msg.Key()) {
		t.Fatalf("message still queued after %d ticks", lifespan+1)
	}
	if c.State().Outbox != 0 {
		t.Fatalf("outbox = %d, want 0", c.State().Outbox)
	}
}

func TestClientReceivedLedgerExpires(t *testing.T) {
	clock := timectrl.NewManualClock(7)
	c := NewClientHandler("rover", 100, clock, 0, nil)

	c.Record("base>rover#1", clock.Now())
	if !c.HasReceived("base>rover#1") {
		t.Fatalf("record should be present right after insertion")
	}
	c.Refresh(clock.Step(1))
	if c.HasReceived("base>rover#1") {
		t.Fatalf("record should be gone after refresh at T+1")
	}
}

func TestHandshakeExchangesMessages(t *testing.T) {
	ctx := context.Background()
	clock := timectrl.NewManualClock(0)
	r, _ := newRouter(1, clock)
	rover := NewClientHandler("rover", 100, clock, 20, nil)

	incoming := &model.ClientMessage{DropID: 1, From: "base", To: "rover", CreatedAt: 0, ExpiresAt: 20, Body: []byte("cmd")}
	r.HandleClientMessage(ctx, incoming)
	r.HandleClientMessage(ctx, incoming)
	if got := r.StoredFor("rover"); len(got) != 1 {
		t.Fatalf("router stored %d copies, want 1", len(got))
	}

	out := rover.Compose("base", []byte("telemetry"))
	clock.Set(4)
	rover.Handshake(ctx, r)

	st := rover.Stats()
	if st.Received != 1 || st.Sent != 1 {
		t.Fatalf("client stats = %+v", st)
	}
	if len(st.Latency) != 1 || st.Latency[0] != 4 {
		t.Fatalf("latency = %v, want [4]", st.Latency)
	}
	if !rover.HasReceived(incoming.Key()) {
		t.Fatalf("received message missing from ledger")
	}
	if len(r.StoredFor("rover")) != 0 {
		t.Fatalf("router store for rover should be cleared")
	}
	if p := r.Pending(); len(p) != 1 || p[0].Key() != out.Key() {
		t.Fatalf("router pending = %v, want the uploaded message", p)
	}

	// A second handshake moves nothing.
	rover.Handshake(ctx, r)
	if st := rover.Stats(); st.Received != 1 || st.Sent != 1 {
		t.Fatalf("second handshake changed stats: %+v", st)
	}
}

func TestHandshakeSkipsAlreadyReceived(t *testing.T) {
	ctx := context.Background()
	clock := timectrl.NewManualClock(0)
	r, _ := newRouter(1, clock)
	rover := NewClientHandler("rover", 100, clock, 20, nil)

	msg := &model.ClientMessage{DropID: 3, From: "base", To: "rover", ExpiresAt: 20}
	rover.Record(msg.Key(), msg.ExpiresAt)
	r.HandleClientMessage(ctx, msg)
	rover.Handshake(ctx, r)
	if st := rover.Stats(); st.Received != 0 {
		t.Fatalf("received = %d, want 0", st.Received)
	}
	if r.Stats().MessagesHandedOff != 0 {
		t.Fatalf("router handed off a message the client already had")
	}
}

func TestMergeMappingsKeepsLaterExpiry(t *testing.T) {
	clock := timectrl.NewManualClock(0)
	r, _ := newRouter(1, clock)
	r.HandleBeacon("rover")

	r.MergeMappings(model.MappingTable{
		"rover": {1: 5, 2: 30},
		"base":  {4: 12},
	})
	got := r.Mappings()
	if got["rover"][1] != 10 {
		t.Fatalf("own mapping overwritten with an earlier expiry: %v", got)
	}
	if got["rover"][2] != 30 || got["base"][4] != 12 {
		t.Fatalf("merged table = %v", got)
	}

	r.MergeMappings(model.MappingTable{"rover": {1: 40}})
	if r.Mappings()["rover"][1] != 40 {
		t.Fatalf("later expiry not adopted")
	}
}

func TestShareMappingsReachesPeers(t *testing.T) {
	clock := timectrl.NewManualClock(0)
	a, _ := newRouter(1, clock)
	b, _ := newRouter(2, clock)
	a.HandleBeacon("rover")
	a.ShareMappings([]*RouterHandler{a, b, nil})
	if hosts := b.HostRouters("rover"); len(hosts) != 1 || hosts[0] != 1 {
		t.Fatalf("peer hosts for rover = %v", hosts)
	}
	// The shared table is a copy.
	b.MergeMappings(model.MappingTable{"rover": {1: 99}})
	if a.Mappings()["rover"][1] != 10 {
		t.Fatalf("peer merge leaked into sender table")
	}
}

func TestRefreshOriginatesBundlePerHost(t *testing.T) {
	ctx := context.Background()
	clock := timectrl.NewManualClock(2)
	r, sink := newRouter(1, clock)
	r.MergeMappings(model.MappingTable{"base": {5: 50, 3: 50}})

	msg := &model.ClientMessage{DropID: 1, From: "rover", To: "base", ExpiresAt: 40}
	orphan := &model.ClientMessage{DropID: 2, From: "rover", To: "nobody", ExpiresAt: 6}
	r.accept([]*model.ClientMessage{msg, orphan})
	r.Refresh(ctx, clock.Now())

	if len(sink.bundles) != 2 {
		t.Fatalf("originated %d bundles, want 2", len(sink.bundles))
	}
	if sink.bundles[0].Dest != 3 || sink.bundles[1].Dest != 5 {
		t.Fatalf("bundle destinations = %d, %d; want 3, 5", sink.bundles[0].Dest, sink.bundles[1].Dest)
	}
	if sink.bundles[0].ID == sink.bundles[1].ID {
		t.Fatalf("bundles share an ID")
	}
	if b := sink.bundles[0]; b.Source != 1 || b.Payload != msg || b.ExpiresAt != 32 {
		t.Fatalf("bundle = %+v", b)
	}
	if p := r.Pending(); len(p) != 1 || p[0] != orphan {
		t.Fatalf("pending = %v, want only the message without a host", p)
	}

	r.Refresh(ctx, 6)
	if len(r.Pending()) != 0 {
		t.Fatalf("expired pending message kept")
	}
}

func TestRefreshExpiresMappingsAndInbox(t *testing.T) {
	ctx := context.Background()
	clock := timectrl.NewManualClock(0)
	r, _ := newRouter(1, clock)
	r.HandleBeacon("rover")
	r.HandleClientMessage(ctx, &model.ClientMessage{DropID: 1, From: "a", To: "rover", ExpiresAt: 8})

	r.Refresh(ctx, 8)
	if len(r.StoredFor("rover")) != 0 {
		t.Fatalf("expired message kept")
	}
	if len(r.HostRouters("rover")) != 1 {
		t.Fatalf("mapping expired early")
	}
	r.Refresh(ctx, 10)
	if st := r.State(); len(st.Mappings) != 0 {
		t.Fatalf("mappings = %v, want empty", st.Mappings)
	}
}

func TestDispatcherRoutesByPayloadKind(t *testing.T) {
	ctx := context.Background()
	clock := timectrl.NewManualClock(0)
	r, _ := newRouter(1, clock)
	d := NewDispatcher(nil)
	d.Register(r)

	deliver := func(p model.Payload) {
		d.DeliverPayload(ctx, 1, &model.Bundle{ID: 1, Dest: 1, Payload: p, ExpiresAt: 10})
	}
	deliver(&model.ClientBeacon{ClientID: "rover"})
	deliver(&model.MappingPayload{Table: model.MappingTable{"base": {7: 20}}})
	deliver(&model.ClientMessage{DropID: 1, From: "base", To: "rover", ExpiresAt: 9})
	deliver(model.RawPayload("x"))

	st := r.Stats()
	if st.BeaconsReceived != 1 || st.MappingsMerged != 1 || st.MessagesStored != 1 || st.RawDelivered != 1 {
		t.Fatalf("router stats = %+v", st)
	}
	if hosts := r.HostRouters("base"); len(hosts) != 1 || hosts[0] != 7 {
		t.Fatalf("hosts(base) = %v", hosts)
	}

	d.DeliverPayload(ctx, 42, &model.Bundle{ID: 2, Dest: 42})
	if d.Unhandled != 1 {
		t.Fatalf("Unhandled = %d, want 1", d.Unhandled)
	}
}
