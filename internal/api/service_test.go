package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/dtn-simulator/core"
	"github.com/signalsfoundry/dtn-simulator/internal/cgr"
	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/internal/sim"
	"github.com/signalsfoundry/dtn-simulator/kb"
)

const holdScenario = `
name: api
protocol: cgr
steps: 4
nodes:
  - {id: 0}
  - {id: 1}
  - {id: 2}
  - {id: 3}
  - {id: 4}
contact_plan:
  - {contact: 1, source: 0, dest: 2, startTime: 0, rate: 100}
  - {contact: 2, source: 2, dest: 1, startTime: 0, rate: 100}
  - {contact: 3, source: 0, dest: 3, startTime: 0, rate: 100}
  - {contact: 4, source: 3, dest: 4, startTime: 0, rate: 100}
traffic:
  - {at: 0, source: 0, dest: 4, size: 4, lifespan: 100}
`

func newEngine(t *testing.T) *sim.Engine {
	t.Helper()
	sc, err := sim.ParseScenarioYAML([]byte(holdScenario))
	if err != nil {
		t.Fatalf("ParseScenarioYAML: %v", err)
	}
	engine, err := sim.Build(sc, sim.BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return engine
}

func startServer(t *testing.T, srv SimulationServer) *Client {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingUnaryServerInterceptor(logging.Noop()),
		TracingUnaryServerInterceptor(),
	))
	RegisterSimulationServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, "test-req")
}

func TestGetSummaryOverGRPC(t *testing.T) {
	client := startServer(t, NewSimulationService(newEngine(t), nil))

	out, err := client.GetSummary(testContext(t))
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	m := out.AsMap()
	if m["protocol"] != "cgr" {
		t.Fatalf("protocol = %v, want cgr", m["protocol"])
	}
	if m["ticks"] != float64(4) {
		t.Fatalf("ticks = %v, want 4", m["ticks"])
	}
	if m["deliveries"] != float64(1) {
		t.Fatalf("deliveries = %v, want 1", m["deliveries"])
	}
}

func TestGetTickAndNode(t *testing.T) {
	client := startServer(t, NewSimulationService(newEngine(t), nil))
	ctx := testContext(t)

	rec, err := client.GetTick(ctx, 1)
	if err != nil {
		t.Fatalf("GetTick: %v", err)
	}
	nodes, ok := rec.AsMap()["nodes"].([]any)
	if !ok || len(nodes) != 5 {
		t.Fatalf("tick 1 nodes = %v, want 5 entries", rec.AsMap()["nodes"])
	}

	node, err := client.GetNode(ctx, 4)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	m := node.AsMap()
	if m["id"] != float64(4) {
		t.Fatalf("node id = %v, want 4", m["id"])
	}
	routing, ok := m["routing_protocol"].(map[string]any)
	if !ok {
		t.Fatalf("routing_protocol missing: %v", m)
	}
	if routing["deliveries"] != float64(1) {
		t.Fatalf("node 4 deliveries = %v, want 1", routing["deliveries"])
	}

	if _, err := client.GetTick(ctx, 99); status.Code(err) != codes.NotFound {
		t.Fatalf("GetTick(99) code = %v, want NotFound", status.Code(err))
	}
	if _, err := client.GetNode(ctx, 42); status.Code(err) != codes.NotFound {
		t.Fatalf("GetNode(42) code = %v, want NotFound", status.Code(err))
	}
}

func TestApplyEventOverGRPC(t *testing.T) {
	engine := newEngine(t)
	client := startServer(t, NewSimulationService(engine, nil))
	ctx := testContext(t)

	if !engine.Truth().HasContact(0, 3) {
		t.Fatalf("truth plan should start with 0->3")
	}
	if err := client.ApplyEvent(ctx, map[string]any{"type": "remove_node_contacts", "node": 3}); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if engine.Truth().HasContact(0, 3) || engine.Truth().HasContact(3, 4) {
		t.Fatalf("contacts of node 3 should be gone")
	}

	err := client.ApplyEvent(ctx, map[string]any{
		"type":    "add_contact",
		"contact": map[string]any{"contact": 9, "source": 1, "dest": 4, "startTime": 0, "rate": 10},
	})
	if err != nil {
		t.Fatalf("ApplyEvent add_contact: %v", err)
	}
	if !engine.Truth().HasContact(1, 4) {
		t.Fatalf("truth plan missing 1->4")
	}

	err = client.ApplyEvent(ctx, map[string]any{"type": "teleport"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("unknown type code = %v, want InvalidArgument", status.Code(err))
	}
	err = client.ApplyEvent(ctx, map[string]any{"type": "remove_node_contacts", "node": 3, "nodes": []any{77}})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("unknown node code = %v, want NotFound", status.Code(err))
	}
	err = client.ApplyEvent(ctx, map[string]any{"type": 5})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("undecodable event code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestServiceWithoutEngine(t *testing.T) {
	client := startServer(t, NewSimulationService(nil, nil))
	if _, err := client.GetSummary(testContext(t)); status.Code(err) != codes.Unavailable {
		t.Fatalf("code = %v, want Unavailable", status.Code(err))
	}
}

func TestServiceInfoHasNoDescriptorFile(t *testing.T) {
	s := grpc.NewServer()
	RegisterSimulationServer(s, NewSimulationService(nil, nil))

	info, ok := s.GetServiceInfo()[ServiceName]
	if !ok {
		t.Fatalf("%s not registered", ServiceName)
	}
	if info.Metadata != nil {
		t.Fatalf("Metadata = %v, want nil: no descriptor file is registered", info.Metadata)
	}
	if len(info.Methods) != 4 {
		t.Fatalf("methods = %v, want 4", info.Methods)
	}
}

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "not found", err: fmt.Errorf("tick 3: %w", ErrNotFound), code: codes.NotFound},
		{name: "unknown node", err: kb.ErrUnknownNode, code: codes.NotFound},
		{name: "missing contact", err: cgr.ErrContactNotFound, code: codes.NotFound},
		{name: "bad request", err: ErrInvalidRequest, code: codes.InvalidArgument},
		{name: "bad scenario", err: sim.ErrInvalidScenario, code: codes.InvalidArgument},
		{name: "bad contact", err: fmt.Errorf("wrap: %w", core.ErrInvalidContact), code: codes.InvalidArgument},
		{name: "duplicate node", err: kb.ErrNodeExists, code: codes.AlreadyExists},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
