// Package routing implements the per-node DTN routing strategies: contact
// graph routing, epidemic flooding and spray-and-wait.
//
// Protocols are driven from a single goroutine. A refresh may hand bundles
// to neighbors synchronously, and those neighbors may in turn deliver
// payloads that originate new bundles, so no protocol holds a lock while
// calling out.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/dtn-simulator/internal/cgr"
	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/model"
)

// ErrUnknownProtocol is returned for protocol names with no implementation.
var ErrUnknownProtocol = errors.New("unknown routing protocol")

// Kind names a routing strategy.
type Kind int

const (
	KindCGR Kind = iota
	KindEpidemic
	KindSprayAndWait
)

func (k Kind) String() string {
	switch k {
	case KindCGR:
		return "cgr"
	case KindEpidemic:
		return "epidemic"
	case KindSprayAndWait:
		return "spray-and-wait"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a config name onto a Kind. Empty selects CGR.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cgr", "dtn", "contact-graph":
		return KindCGR, nil
	case "epidemic":
		return KindEpidemic, nil
	case "spray", "spray-and-wait", "spray_and_wait", "snw":
		return KindSprayAndWait, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}
}

// Neighbor is one entry of a per-tick connectivity snapshot.
type Neighbor struct {
	ID        model.NodeID
	Connected bool
	Role      model.Role
}

// Environment is what a protocol needs from the surrounding simulation.
type Environment interface {
	// Now returns the current simulation tick.
	Now() int64
	// Neighbors returns the connectivity snapshot for id.
	Neighbors(id model.NodeID) []Neighbor
	// Resolve returns the handler that accepts bundles for id. Unknown
	// nodes fail with kb.ErrUnknownNode.
	Resolve(id model.NodeID) (model.BundleHandler, error)
	// DeliverPayload hands a bundle that reached its destination to the
	// application layer of node id.
	DeliverPayload(ctx context.Context, id model.NodeID, b *model.Bundle)
}

// Protocol is one node's routing strategy instance.
type Protocol interface {
	model.BundleHandler
	NodeID() model.NodeID
	Kind() Kind
	// Refresh expires bundles and forwards to connected neighbors. It is
	// called exactly once per tick.
	Refresh(ctx context.Context, now int64)
	State() State
}

// State is a snapshot of a protocol's counters.
type State struct {
	Kind              string  `json:"kind"`
	Sends             int64   `json:"sends"`
	DuplicateReceives int64   `json:"duplicate_receives"`
	Deliveries        int64   `json:"deliveries"`
	Queued            int64   `json:"queued"`
	Dropped           int64   `json:"dropped"`
	Expired           int64   `json:"expired"`
	DeliveryLatencies []int64 `json:"delivery_latencies,omitempty"`
}

// Recorder receives routing events for metrics export. Implementations must
// be cheap; they are called inline on the forwarding path.
type Recorder interface {
	BundleSent(kind Kind, node model.NodeID)
	BundleDuplicate(kind Kind, node model.NodeID)
	BundleDelivered(kind Kind, node model.NodeID, latency int64)
	BundleDropped(kind Kind, node model.NodeID, reason string)
	BundlesExpired(kind Kind, node model.NodeID, n int)
	RouteComputed(found bool, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) BundleSent(Kind, model.NodeID)             {}
func (noopRecorder) BundleDuplicate(Kind, model.NodeID)        {}
func (noopRecorder) BundleDelivered(Kind, model.NodeID, int64) {}
func (noopRecorder) BundleDropped(Kind, model.NodeID, string)  {}
func (noopRecorder) BundlesExpired(Kind, model.NodeID, int)    {}
func (noopRecorder) RouteComputed(bool, time.Duration)         {}

// NoRoutePolicy decides what a contact-graph node does with a bundle it
// cannot route.
type NoRoutePolicy int

const (
	// Hold stores the bundle by destination until a contact-plan change
	// produces a route.
	Hold NoRoutePolicy = iota
	// Drop discards the bundle and counts it.
	Drop
)

func (p NoRoutePolicy) String() string {
	if p == Drop {
		return "drop"
	}
	return "hold"
}

// ParseNoRoutePolicy maps a config name onto a policy. Empty selects Hold.
func ParseNoRoutePolicy(s string) (NoRoutePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hold", "store":
		return Hold, nil
	case "drop":
		return Drop, nil
	default:
		return 0, fmt.Errorf("unknown no-route policy %q", s)
	}
}

// SprayMode selects how spray-and-wait splits copies.
type SprayMode int

const (
	// SprayBinary hands half of the sender's copies to each new relay.
	SprayBinary SprayMode = iota
	// SpraySource hands a single copy to each relay; only the holder of
	// several copies keeps spraying.
	SpraySource
)

func (m SprayMode) String() string {
	if m == SpraySource {
		return "source"
	}
	return "binary"
}

// ParseSprayMode maps a config name onto a mode. Empty selects binary.
func ParseSprayMode(s string) (SprayMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "binary":
		return SprayBinary, nil
	case "source", "vanilla", "direct":
		return SpraySource, nil
	default:
		return 0, fmt.Errorf("unknown spray mode %q", s)
	}
}

// DefaultSprayCopies is the copy budget for bundles originated without one.
const DefaultSprayCopies = 4

// Config carries the options shared by every protocol instance of a run.
type Config struct {
	Logger   logging.Logger
	Recorder Recorder

	// NoRoute applies to contact-graph routing.
	NoRoute NoRoutePolicy
	// Contacts seeds every contact-graph node's plan.
	Contacts      []model.Contact
	RouterOptions []cgr.Option

	SprayCopies int
	SprayMode   SprayMode
}

func (c Config) withDefaults() Config {
	c.Logger = logging.OrNoop(c.Logger)
	if c.Recorder == nil {
		c.Recorder = noopRecorder{}
	}
	if c.SprayCopies <= 0 {
		c.SprayCopies = DefaultSprayCopies
	}
	return c
}

// Strategy creates protocol instances of one kind. A network is built with
// exactly one strategy.
type Strategy interface {
	Kind() Kind
	New(id model.NodeID, env Environment) (Protocol, error)
}

type strategy struct {
	kind Kind
	cfg  Config
}

// NewStrategy returns a factory for kind.
func NewStrategy(kind Kind, cfg Config) (Strategy, error) {
	switch kind {
	case KindCGR, KindEpidemic, KindSprayAndWait:
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownProtocol, kind)
	}
	return &strategy{kind: kind, cfg: cfg.withDefaults()}, nil
}

func (s *strategy) Kind() Kind { return s.kind }

func (s *strategy) New(id model.NodeID, env Environment) (Protocol, error) {
	switch s.kind {
	case KindCGR:
		return NewCGRNode(id, env, s.cfg)
	case KindEpidemic:
		return NewEpidemic(id, env, s.cfg), nil
	default:
		return NewSprayAndWait(id, env, s.cfg), nil
	}
}
