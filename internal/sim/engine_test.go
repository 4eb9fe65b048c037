package sim

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/dtn-simulator/internal/cgr"
	"github.com/signalsfoundry/dtn-simulator/internal/routing"
	"github.com/signalsfoundry/dtn-simulator/model"
	"github.com/signalsfoundry/dtn-simulator/timectrl"
)

func TestScheduleConnectivityIsSymmetricAndWindowed(t *testing.T) {
	s := NewSchedule([]LinkWindow{
		{A: 1, B: 2, Start: 2, End: 5},
		{A: 3, B: 1, Start: 0, End: model.Forever},
	})
	cases := []struct {
		a, b model.NodeID
		tick int64
		want bool
	}{
		{1, 2, 1, false},
		{1, 2, 2, true},
		{2, 1, 4, true},
		{1, 2, 5, false},
		{1, 3, 1000, true},
		{2, 3, 3, false},
		{1, 1, 3, false},
	}
	for _, tc := range cases {
		if got := s.Connected(tc.a, tc.b, tc.tick); got != tc.want {
			t.Errorf("Connected(%d, %d, %d) = %v, want %v", tc.a, tc.b, tc.tick, got, tc.want)
		}
	}
	if (FullConnectivity{}).Connected(4, 4, 0) || !(FullConnectivity{}).Connected(4, 5, 0) {
		t.Fatalf("full connectivity should connect distinct nodes only")
	}
}

func TestPlanConnectivityFollowsContacts(t *testing.T) {
	plan, err := cgr.NewRouterFromContacts([]model.Contact{
		{ID: 0, Source: 1, Dest: 2, Start: 3, End: 6, Rate: 1, Confidence: 1},
	})
	if err != nil {
		t.Fatalf("NewRouterFromContacts: %v", err)
	}
	conn := PlanConnectivity{Plan: plan}
	if conn.Connected(1, 2, 2) {
		t.Fatalf("connected before the contact opens")
	}
	if !conn.Connected(2, 1, 3) {
		t.Fatalf("reverse direction should count while the contact is open")
	}
	if conn.Connected(1, 2, 6) {
		t.Fatalf("connected after the contact closes")
	}
	if (PlanConnectivity{}).Connected(1, 2, 3) {
		t.Fatalf("nil plan should never connect")
	}
}

func buildEngine(t *testing.T, sc *Scenario, opts BuildOptions) *Engine {
	t.Helper()
	e, err := Build(sc, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return e
}

type tickRecorder struct {
	ticks []int64
}

func (r *tickRecorder) TickCompleted(_ context.Context, s TickStats) {
	r.ticks = append(r.ticks, s.Tick)
}

func TestEngineHoldsThenDrainsOnContactEvent(t *testing.T) {
	sc, err := ParseScenarioYAML([]byte(holdScenarioYAML))
	if err != nil {
		t.Fatalf("ParseScenarioYAML: %v", err)
	}
	obs := &tickRecorder{}
	e := buildEngine(t, sc, BuildOptions{Observer: obs})

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(obs.ticks, []int64{0, 1, 2, 3}) {
		t.Fatalf("observed ticks = %v", obs.ticks)
	}

	recs := e.History().Records()
	if len(recs) != 4 {
		t.Fatalf("history has %d records, want 4", len(recs))
	}
	// Held at node 0 until the contact to node 4 appears at tick 2.
	if st := recs[1].Nodes[0].Routing; st.Queued != 1 || st.Sends != 0 {
		t.Fatalf("node 0 at tick 1 = %+v", st)
	}
	if st := recs[2].Nodes[4].Routing; st.Deliveries != 1 || st.DeliveryLatencies[0] != 2 {
		t.Fatalf("node 4 at tick 2 = %+v", st)
	}

	sum := e.Summary()
	if sum.Protocol != "cgr" || sum.Ticks != 4 || sum.Now != 3 || sum.Nodes != 5 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Originated != 1 || sum.Deliveries != 1 || sum.DeliveryRatio != 1 || sum.MeanLatency != 2 {
		t.Fatalf("summary = %+v", sum)
	}

	n0, _ := e.Network().Protocol(0)
	if !n0.(*routing.CGRNode).Router().HasContact(3, 4) {
		t.Fatalf("node 0 plan should contain the added contact")
	}
}

func TestEngineRemoveEventsReachTruthPlan(t *testing.T) {
	sc, err := ParseScenarioYAML([]byte(`
steps: 3
nodes: [{id: 0}, {id: 1}]
contact_plan:
  - {contact: 0, source: 0, dest: 1, startTime: 0, rate: 10}
events:
  - {at: 1, type: remove_node_contacts, node: 1}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e := buildEngine(t, sc, BuildOptions{})
	conn := e.Network().conn
	if !conn.Connected(0, 1, 0) {
		t.Fatalf("nodes should start connected")
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conn.Connected(0, 1, 2) {
		t.Fatalf("truth plan should lose the contact")
	}
	for _, id := range []model.NodeID{0, 1} {
		p, _ := e.Network().Protocol(id)
		if n := p.(*routing.CGRNode).Router().Len(); n != 0 {
			t.Fatalf("node %d still has %d contacts", id, n)
		}
	}
}

func TestEngineCarriesClientMessageBetweenRouters(t *testing.T) {
	sc, err := ParseScenarioJSON([]byte(clientScenarioJSON))
	if err != nil {
		t.Fatalf("ParseScenarioJSON: %v", err)
	}
	e := buildEngine(t, sc, BuildOptions{})
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	bob, ok := e.Network().ClientByName("bob")
	if !ok {
		t.Fatalf("bob not registered")
	}
	st := bob.Stats()
	if st.Received != 1 || len(st.Latency) != 1 || st.Latency[0] != 2 {
		t.Fatalf("bob stats = %+v", st)
	}
	keys := bob.ReceivedKeys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "alice>bob#") {
		t.Fatalf("bob received %v", keys)
	}

	relayA, _ := e.Network().Router(1)
	if hosts := relayA.HostRouters("bob"); !reflect.DeepEqual(hosts, []model.NodeID{2}) {
		t.Fatalf("relay-a thinks bob is at %v", hosts)
	}
	sum := e.Summary()
	if sum.MessagesComposed != 1 || sum.MessagesReceived != 1 || sum.Originated != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestSeededOrderIsReproducible(t *testing.T) {
	run := func(seed int64) *Engine {
		sc, err := ParseScenarioJSON([]byte(clientScenarioJSON))
		if err != nil {
			t.Fatalf("ParseScenarioJSON: %v", err)
		}
		sc.Order = OrderSeeded
		sc.Seed = seed
		e := buildEngine(t, sc, BuildOptions{Steps: 6})
		if err := e.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return e
	}
	a, b := run(7), run(7)
	if !reflect.DeepEqual(a.History().Records(), b.History().Records()) {
		t.Fatalf("same seed produced different histories")
	}
	if a.Ticks() != 6 {
		t.Fatalf("ticks = %d, want 6", a.Ticks())
	}
}

func TestTrafficRepeats(t *testing.T) {
	tr := TrafficSpec{At: 2, Count: 3, Every: 5}
	var fired []int64
	for tick := int64(0); tick < 20; tick++ {
		if firesAt(tr, tick) {
			fired = append(fired, tick)
		}
	}
	if !reflect.DeepEqual(fired, []int64{2, 7, 12}) {
		t.Fatalf("fired at %v", fired)
	}
	if !firesAt(TrafficSpec{At: 4}, 4) || firesAt(TrafficSpec{At: 4}, 5) {
		t.Fatalf("single-shot traffic fired at the wrong tick")
	}
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	sc, err := ParseScenarioJSON([]byte(clientScenarioJSON))
	if err != nil {
		t.Fatalf("ParseScenarioJSON: %v", err)
	}
	sc.Steps = 0
	e := buildEngine(t, sc, BuildOptions{Mode: timectrl.RealTime, Pacing: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); err == nil {
		t.Fatalf("unbounded run should end with the context error")
	}
	if e.Ticks() < 2 {
		t.Fatalf("ticks = %d, expected the paced clock to advance", e.Ticks())
	}
}

func TestNewEngineRequiresNetworkAndClock(t *testing.T) {
	if _, err := NewEngine(EngineConfig{}); err == nil {
		t.Fatalf("expected error without network")
	}
	strategy, err := routing.NewStrategy(routing.KindEpidemic, routing.Config{})
	if err != nil {
		t.Fatalf("NewStrategy: %v", err)
	}
	net, err := NewNetwork(NetworkConfig{Clock: timectrl.NewManualClock(0), Strategy: strategy})
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	if _, err := NewEngine(EngineConfig{Network: net}); err == nil {
		t.Fatalf("expected error without clock")
	}
}
