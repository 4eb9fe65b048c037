// Package sim wires routing protocols, payload handlers and a connectivity
// source into a tick-driven DTN network.
package sim

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/internal/payload"
	"github.com/signalsfoundry/dtn-simulator/internal/routing"
	"github.com/signalsfoundry/dtn-simulator/kb"
	"github.com/signalsfoundry/dtn-simulator/model"
	"github.com/signalsfoundry/dtn-simulator/timectrl"
)

// NetworkConfig configures a Network.
type NetworkConfig struct {
	Clock          timectrl.SimClock
	Strategy       routing.Strategy
	Connectivity   Connectivity
	BundleLifespan int64
	MappingTimeout int64
	Logger         logging.Logger
}

// Network is the environment routing protocols run in. It owns the node
// directory, every node's protocol and payload layer, and the bundle ID
// sequence.
type Network struct {
	clock    timectrl.SimClock
	strategy routing.Strategy
	conn     Connectivity
	dir      *kb.Directory
	dispatch *payload.Dispatcher
	ids      model.IDSource
	lifespan int64
	timeout  int64
	log      logging.Logger

	protocols map[model.NodeID]routing.Protocol
	routers   map[model.NodeID]*payload.RouterHandler
	clients   map[model.NodeID]*payload.ClientHandler
	byClient  map[string]*payload.ClientHandler
}

var _ routing.Environment = (*Network)(nil)

// NewNetwork returns an empty network.
func NewNetwork(cfg NetworkConfig) (*Network, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("network: clock is nil")
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("network: routing strategy is nil")
	}
	if cfg.Connectivity == nil {
		cfg.Connectivity = FullConnectivity{}
	}
	if cfg.BundleLifespan <= 0 {
		cfg.BundleLifespan = model.DefaultBundleLifespan
	}
	log := logging.OrNoop(cfg.Logger)
	return &Network{
		clock:     cfg.Clock,
		strategy:  cfg.Strategy,
		conn:      cfg.Connectivity,
		dir:       kb.NewDirectory(),
		dispatch:  payload.NewDispatcher(log),
		lifespan:  cfg.BundleLifespan,
		timeout:   cfg.MappingTimeout,
		log:       log,
		protocols: make(map[model.NodeID]routing.Protocol),
		routers:   make(map[model.NodeID]*payload.RouterHandler),
		clients:   make(map[model.NodeID]*payload.ClientHandler),
		byClient:  make(map[string]*payload.ClientHandler),
	}, nil
}

// AddRouter creates a router node running the network's strategy.
func (n *Network) AddRouter(id model.NodeID, name string) error {
	p, err := n.strategy.New(id, n)
	if err != nil {
		return err
	}
	if err := n.dir.AddNode(&model.Node{ID: id, Name: name, Role: model.RoleRouter, Handler: p}); err != nil {
		return err
	}
	h := payload.NewRouterHandler(id, p, payload.RouterConfig{
		Clock:          n.clock,
		IDs:            &n.ids,
		MappingTimeout: n.timeout,
		BundleLifespan: n.lifespan,
		Logger:         n.log,
	})
	n.protocols[id] = p
	n.routers[id] = h
	n.dispatch.Register(h)
	return nil
}

// AddClient creates a client-only node carrying client identity clientID.
func (n *Network) AddClient(id model.NodeID, name, clientID string) error {
	if _, dup := n.byClient[clientID]; dup {
		return fmt.Errorf("client %q: %w", clientID, kb.ErrNodeExists)
	}
	if err := n.dir.AddNode(&model.Node{ID: id, Name: name, Role: model.RoleClient}); err != nil {
		return err
	}
	c := payload.NewClientHandler(clientID, id, n.clock, n.lifespan, n.log)
	n.clients[id] = c
	n.byClient[clientID] = c
	return nil
}

// Now implements routing.Environment.
func (n *Network) Now() int64 { return n.clock.Now() }

// Neighbors implements routing.Environment. Every other node is listed;
// Connected reflects the connectivity source at the current tick.
func (n *Network) Neighbors(id model.NodeID) []routing.Neighbor {
	now := n.clock.Now()
	nodes := n.dir.ListNodes()
	out := make([]routing.Neighbor, 0, len(nodes))
	for _, node := range nodes {
		if node.ID == id {
			continue
		}
		out = append(out, routing.Neighbor{
			ID:        node.ID,
			Connected: n.conn.Connected(id, node.ID, now),
			Role:      node.Role,
		})
	}
	return out
}

// Resolve implements routing.Environment.
func (n *Network) Resolve(id model.NodeID) (model.BundleHandler, error) {
	return n.dir.Resolve(id)
}

// DeliverPayload implements routing.Environment.
func (n *Network) DeliverPayload(ctx context.Context, id model.NodeID, b *model.Bundle) {
	n.dispatch.DeliverPayload(ctx, id, b)
}

// Originate creates a bundle at src and hands it to src's protocol.
func (n *Network) Originate(ctx context.Context, src, dst model.NodeID, p model.Payload, lifespan int64) (*model.Bundle, error) {
	proto, ok := n.protocols[src]
	if !ok {
		return nil, fmt.Errorf("originate at %d: %w", src, kb.ErrUnknownNode)
	}
	if lifespan <= 0 {
		lifespan = n.lifespan
	}
	b := model.NewBundle(&n.ids, model.BundleSpec{Source: src, Dest: dst, Payload: p, Lifespan: lifespan}, n.clock.Now())
	proto.HandleBundle(ctx, b)
	return b, nil
}

// Directory exposes the node directory.
func (n *Network) Directory() *kb.Directory { return n.dir }

// Protocol returns the routing protocol of router id.
func (n *Network) Protocol(id model.NodeID) (routing.Protocol, bool) {
	p, ok := n.protocols[id]
	return p, ok
}

// Router returns the payload layer of router id.
func (n *Network) Router(id model.NodeID) (*payload.RouterHandler, bool) {
	h, ok := n.routers[id]
	return h, ok
}

// Client returns the payload layer of client node id.
func (n *Network) Client(id model.NodeID) (*payload.ClientHandler, bool) {
	c, ok := n.clients[id]
	return c, ok
}

// ClientByName returns the client with identity clientID.
func (n *Network) ClientByName(clientID string) (*payload.ClientHandler, bool) {
	c, ok := n.byClient[clientID]
	return c, ok
}

// connectedRouters lists router neighbors of id that are connected now.
func (n *Network) connectedRouters(id model.NodeID) []model.NodeID {
	var out []model.NodeID
	for _, nb := range n.Neighbors(id) {
		if nb.Connected && nb.Role == model.RoleRouter {
			out = append(out, nb.ID)
		}
	}
	return out
}
