package routing

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/signalsfoundry/dtn-simulator/kb"
	"github.com/signalsfoundry/dtn-simulator/model"
)

// fakeEnv is a scripted environment. Unless a node has an explicit
// neighbor list, every other registered node is a connected router.
type fakeEnv struct {
	now       int64
	protocols map[model.NodeID]Protocol
	neighbors map[model.NodeID][]Neighbor
	delivered map[model.NodeID][]*model.Bundle
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		protocols: make(map[model.NodeID]Protocol),
		neighbors: make(map[model.NodeID][]Neighbor),
		delivered: make(map[model.NodeID][]*model.Bundle),
	}
}

func (e *fakeEnv) Now() int64 { return e.now }

func (e *fakeEnv) Neighbors(id model.NodeID) []Neighbor {
	if n, ok := e.neighbors[id]; ok {
		return n
	}
	var out []Neighbor
	for other := range e.protocols {
		if other != id {
			out = append(out, Neighbor{ID: other, Connected: true, Role: model.RoleRouter})
		}
	}
	return out
}

func (e *fakeEnv) Resolve(id model.NodeID) (model.BundleHandler, error) {
	p, ok := e.protocols[id]
	if !ok {
		return nil, fmt.Errorf("resolve %d: %w", id, kb.ErrUnknownNode)
	}
	return p, nil
}

func (e *fakeEnv) DeliverPayload(_ context.Context, id model.NodeID, b *model.Bundle) {
	e.delivered[id] = append(e.delivered[id], b)
}

// refreshAll refreshes every protocol once in ascending node order.
func (e *fakeEnv) refreshAll(ctx context.Context) {
	ids := make([]model.NodeID, 0, len(e.protocols))
	for id := range e.protocols {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e.protocols[id].Refresh(ctx, e.now)
	}
}

func newNetwork(t *testing.T, kind Kind, cfg Config, ids ...model.NodeID) *fakeEnv {
	t.Helper()
	env := newFakeEnv()
	strat, err := NewStrategy(kind, cfg)
	if err != nil {
		t.Fatalf("NewStrategy: %v", err)
	}
	for _, id := range ids {
		p, err := strat.New(id, env)
		if err != nil {
			t.Fatalf("New(%d): %v", id, err)
		}
		env.protocols[id] = p
	}
	return env
}

var bundleIDs model.IDSource

func newBundle(src, dst model.NodeID, now, lifespan int64) *model.Bundle {
	return model.NewBundle(&bundleIDs, model.BundleSpec{
		Source:   src,
		Dest:     dst,
		Payload:  model.RawPayload("ping"),
		Lifespan: lifespan,
	}, now)
}
