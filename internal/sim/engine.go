package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/dtn-simulator/internal/cgr"
	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/internal/payload"
	"github.com/signalsfoundry/dtn-simulator/internal/routing"
	"github.com/signalsfoundry/dtn-simulator/internal/sim/state"
	"github.com/signalsfoundry/dtn-simulator/kb"
	"github.com/signalsfoundry/dtn-simulator/model"
	"github.com/signalsfoundry/dtn-simulator/timectrl"
)

const tracerName = "github.com/signalsfoundry/dtn-simulator/internal/sim"

// TickStats summarises one completed tick for observers.
type TickStats struct {
	Tick     int64
	Duration time.Duration
	Nodes    int
	Queued   int64
	Routing  routing.State
}

// Observer is notified after every tick.
type Observer interface {
	TickCompleted(ctx context.Context, stats TickStats)
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Network *Network
	Clock   *timectrl.TimeController
	// Steps is the number of ticks Run processes; zero runs until the
	// context is cancelled.
	Steps   int
	Order   string
	Seed    int64
	Traffic []TrafficSpec
	Events  []EventSpec
	// Truth is the network-wide contact plan backing PlanConnectivity. It
	// receives every contact-plan event.
	Truth    *cgr.Router
	History  *state.History
	Observer Observer
	Logger   logging.Logger
}

// Engine advances a Network tick by tick. Each tick applies scheduled
// contact-plan events, injects traffic, then refreshes every node once in
// the configured order.
type Engine struct {
	mu sync.Mutex

	net      *Network
	clock    *timectrl.TimeController
	steps    int
	order    string
	rng      *rand.Rand
	traffic  []TrafficSpec
	events   []EventSpec
	truth    *cgr.Router
	history  *state.History
	observer Observer
	log      logging.Logger
	tracer   trace.Tracer

	ticks      int
	originated int64
	composed   int64
}

// NewEngine validates cfg and registers the engine on the clock.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Network == nil {
		return nil, fmt.Errorf("engine: network is nil")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("engine: clock is nil")
	}
	if cfg.Order == "" {
		cfg.Order = OrderAscending
	}
	if cfg.History == nil {
		cfg.History = state.NewHistory(0)
	}
	e := &Engine{
		net:      cfg.Network,
		clock:    cfg.Clock,
		steps:    cfg.Steps,
		order:    cfg.Order,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		traffic:  cfg.Traffic,
		events:   cfg.Events,
		truth:    cfg.Truth,
		history:  cfg.History,
		observer: cfg.Observer,
		log:      logging.OrNoop(cfg.Logger),
		tracer:   otel.Tracer(tracerName),
	}
	e.clock.AddListener(e.Step)
	return e, nil
}

// Run processes the clock's current tick and then advances it until Steps
// ticks have been processed or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info(ctx, "simulation starting",
		logging.Int64("start", e.clock.Now()),
		logging.Int("steps", e.steps),
		logging.String("mode", e.clock.Mode.String()),
		logging.String("order", e.order),
	)
	e.Step(ctx, e.clock.Now())
	if e.steps == 1 {
		return nil
	}
	remaining := e.steps - 1
	if e.steps <= 0 {
		remaining = 0
	}
	err := e.clock.Run(ctx, remaining)
	e.log.Info(ctx, "simulation finished", logging.Int("ticks", e.Ticks()), logging.Err(err))
	return err
}

// Step processes a single tick. It is registered as the clock listener and
// may be called directly when driving the clock by hand.
func (e *Engine) Step(ctx context.Context, tick int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	ctx = logging.ContextWithTick(ctx, tick)
	ctx, span := e.tracer.Start(ctx, "sim.Tick", trace.WithAttributes(attribute.Int64("dtn.tick", tick)))
	defer span.End()

	e.applyEvents(ctx, tick)
	e.injectTraffic(ctx, tick)

	for _, id := range e.nodeOrder() {
		if p, ok := e.net.Protocol(id); ok {
			p.Refresh(ctx, tick)
			if r, ok := e.net.Router(id); ok {
				r.Refresh(ctx, tick)
			}
			continue
		}
		if c, ok := e.net.Client(id); ok {
			c.Refresh(tick)
			for _, rid := range e.net.connectedRouters(id) {
				r, _ := e.net.Router(rid)
				r.HandleBeacon(c.ID())
				c.Handshake(ctx, r)
			}
		}
	}
	e.exchangeMappings()

	rec, total := e.snapshot(tick)
	e.history.Append(rec)
	e.ticks++

	span.SetAttributes(
		attribute.Int64("dtn.sends", total.Sends),
		attribute.Int64("dtn.deliveries", total.Deliveries),
		attribute.Int64("dtn.queued", total.Queued),
	)
	if e.observer != nil {
		e.observer.TickCompleted(ctx, TickStats{
			Tick:     tick,
			Duration: time.Since(started),
			Nodes:    len(rec.Nodes),
			Queued:   total.Queued,
			Routing:  total,
		})
	}
}

func (e *Engine) nodeOrder() []model.NodeID {
	ids := e.net.Directory().IDs()
	if e.order == OrderSeeded {
		e.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}
	return ids
}

func (e *Engine) applyEvents(ctx context.Context, tick int64) {
	for _, ev := range e.events {
		if ev.At != tick {
			continue
		}
		if err := e.applyEvent(ctx, ev); err != nil {
			e.log.Warn(ctx, "event failed", logging.String("type", ev.Type), logging.Err(err))
		}
	}
}

// ApplyEvent applies ev immediately, ignoring ev.At. It is safe to call
// while Run is in progress.
func (e *Engine) ApplyEvent(ctx context.Context, ev EventSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx = logging.ContextWithTick(ctx, e.clock.Now())
	return e.applyEvent(ctx, ev)
}

func (e *Engine) applyEvent(ctx context.Context, ev EventSpec) error {
	for _, id := range ev.Nodes {
		if _, ok := e.net.Protocol(model.NodeID(id)); !ok {
			return fmt.Errorf("%w: event targets node %d", kb.ErrUnknownNode, id)
		}
	}
	targets := e.planners(ev.Nodes)
	var errs []error
	switch ev.Type {
	case EventAddContact:
		if ev.Contact == nil {
			return fmt.Errorf("%w: add_contact without contact", ErrInvalidScenario)
		}
		c := ev.Contact.Contact()
		if e.truth != nil {
			if _, err := e.truth.AddContact(c); err != nil {
				return err
			}
		}
		for _, p := range targets {
			if _, err := p.AddContact(ctx, c); err != nil {
				errs = append(errs, err)
			}
		}
	case EventRemoveNodeContacts:
		id := model.NodeID(ev.Node)
		if e.truth != nil {
			e.truth.RemoveAllContactsForNode(id)
		}
		for _, p := range targets {
			p.RemoveAllContactsForNode(id)
		}
	case EventRemoveWindow:
		a, b := model.NodeID(ev.A), model.NodeID(ev.B)
		if e.truth != nil {
			e.truth.RemoveContactsInWindow(a, b, ev.Start, ev.End)
		}
		for _, p := range targets {
			p.RemoveContactsInWindow(a, b, ev.Start, ev.End)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidScenario, ev.Type)
	}
	e.log.Debug(ctx, "event applied",
		logging.String("type", ev.Type),
		logging.Int("targets", len(targets)))
	return errors.Join(errs...)
}

// planners resolves the nodes an event targets. An empty list selects
// every node that owns a contact plan.
func (e *Engine) planners(ids []int64) []routing.ContactPlanner {
	var out []routing.ContactPlanner
	if len(ids) == 0 {
		for _, id := range e.net.Directory().Routers() {
			if p, ok := e.net.protocols[id].(routing.ContactPlanner); ok {
				out = append(out, p)
			}
		}
		return out
	}
	for _, raw := range ids {
		if p, ok := e.net.protocols[model.NodeID(raw)].(routing.ContactPlanner); ok {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) injectTraffic(ctx context.Context, tick int64) {
	for _, tr := range e.traffic {
		if !firesAt(tr, tick) {
			continue
		}
		if tr.IsClient() {
			c, ok := e.net.ClientByName(tr.From)
			if !ok {
				e.log.Warn(ctx, "traffic from unknown client", logging.String("client", tr.From))
				continue
			}
			c.Compose(tr.To, []byte(tr.Body))
			e.composed++
			continue
		}
		size := tr.Size
		if size <= 0 {
			size = 1
		}
		_, err := e.net.Originate(ctx, model.NodeID(tr.Source), model.NodeID(tr.Dest),
			model.RawPayload(make([]byte, size)), tr.Lifespan)
		if err != nil {
			e.log.Warn(ctx, "originate failed", logging.Err(err))
			continue
		}
		e.originated++
	}
}

func firesAt(tr TrafficSpec, tick int64) bool {
	count := int64(tr.Count)
	if count <= 0 {
		count = 1
	}
	if tick < tr.At {
		return false
	}
	if count == 1 || tr.Every <= 0 {
		return tick == tr.At
	}
	off := tick - tr.At
	return off%tr.Every == 0 && off/tr.Every < count
}

// exchangeMappings lets every router share its client table with the
// routers it is connected to.
func (e *Engine) exchangeMappings() {
	for _, id := range e.net.Directory().Routers() {
		r, ok := e.net.Router(id)
		if !ok {
			continue
		}
		var peers []*payload.RouterHandler
		for _, pid := range e.net.connectedRouters(id) {
			if p, ok := e.net.Router(pid); ok {
				peers = append(peers, p)
			}
		}
		r.ShareMappings(peers)
	}
}

func (e *Engine) snapshot(tick int64) (state.TickRecord, routing.State) {
	rec := state.TickRecord{Tick: tick}
	var total routing.State
	for _, node := range e.net.Directory().ListNodes() {
		nr := state.NodeRecord{ID: int64(node.ID), Name: node.Name, Role: node.Role.String()}
		if p, ok := e.net.Protocol(node.ID); ok {
			st := p.State()
			nr.Routing = &st
			total = addState(total, st)
		}
		if r, ok := e.net.Router(node.ID); ok {
			st := r.State()
			nr.Router = &st
		}
		if c, ok := e.net.Client(node.ID); ok {
			st := c.State()
			nr.Client = &st
		}
		rec.Nodes = append(rec.Nodes, nr)
	}
	return rec, total
}

func addState(acc, st routing.State) routing.State {
	acc.Kind = st.Kind
	acc.Sends += st.Sends
	acc.DuplicateReceives += st.DuplicateReceives
	acc.Deliveries += st.Deliveries
	acc.Queued += st.Queued
	acc.Dropped += st.Dropped
	acc.Expired += st.Expired
	acc.DeliveryLatencies = append(acc.DeliveryLatencies, st.DeliveryLatencies...)
	return acc
}

// Truth returns the network-wide contact plan, or nil when connectivity
// does not come from a contact plan.
func (e *Engine) Truth() *cgr.Router { return e.truth }

// Network returns the simulated network.
func (e *Engine) Network() *Network { return e.net }

// Clock returns the controller driving the engine.
func (e *Engine) Clock() *timectrl.TimeController { return e.clock }

// History returns the per-tick record.
func (e *Engine) History() *state.History { return e.history }

// Ticks is the number of processed ticks.
func (e *Engine) Ticks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}

// Summary aggregates the run so far.
type Summary struct {
	Protocol         string  `json:"protocol"`
	Ticks            int     `json:"ticks"`
	Now              int64   `json:"now"`
	Nodes            int     `json:"nodes"`
	Originated       int64   `json:"bundles_originated"`
	Sends            int64   `json:"sends"`
	Deliveries       int64   `json:"deliveries"`
	Duplicates       int64   `json:"duplicate_receives"`
	Dropped          int64   `json:"dropped"`
	Expired          int64   `json:"expired"`
	Queued           int64   `json:"queued"`
	DeliveryRatio    float64 `json:"delivery_ratio"`
	MeanLatency      float64 `json:"mean_latency"`
	MessagesComposed int64   `json:"client_messages_composed"`
	MessagesReceived int64   `json:"client_messages_received"`
}

// Summary computes run totals from the current node states.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Summary{
		Protocol:         e.net.strategy.Kind().String(),
		Ticks:            e.ticks,
		Now:              e.clock.Now(),
		Nodes:            e.net.Directory().Len(),
		Originated:       e.originated,
		MessagesComposed: e.composed,
	}
	var latencySum int64
	var latencyN int
	for _, id := range e.net.Directory().IDs() {
		if p, ok := e.net.Protocol(id); ok {
			st := p.State()
			s.Sends += st.Sends
			s.Deliveries += st.Deliveries
			s.Duplicates += st.DuplicateReceives
			s.Dropped += st.Dropped
			s.Expired += st.Expired
			s.Queued += st.Queued
			for _, l := range st.DeliveryLatencies {
				latencySum += l
				latencyN++
			}
		}
		if r, ok := e.net.Router(id); ok {
			s.Originated += r.Stats().BundlesOriginated
		}
		if c, ok := e.net.Client(id); ok {
			s.MessagesReceived += c.Stats().Received
		}
	}
	if s.Originated > 0 {
		s.DeliveryRatio = float64(s.Deliveries) / float64(s.Originated)
	}
	if latencyN > 0 {
		s.MeanLatency = float64(latencySum) / float64(latencyN)
	}
	return s
}
