package sim

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/dtn-simulator/internal/cgr"
	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/internal/routing"
	"github.com/signalsfoundry/dtn-simulator/internal/sim/state"
	"github.com/signalsfoundry/dtn-simulator/model"
	"github.com/signalsfoundry/dtn-simulator/timectrl"
)

// BuildOptions carries the runtime knobs that do not belong in a scenario
// file.
type BuildOptions struct {
	Logger        logging.Logger
	Recorder      routing.Recorder
	Observer      Observer
	RouterOptions []cgr.Option
	// Mode and Pacing configure the time controller. The zero value runs
	// accelerated.
	Mode         timectrl.Mode
	Pacing       time.Duration
	HistoryLimit int
	// Steps overrides the scenario's step count when positive. A negative
	// value runs until the context is cancelled.
	Steps int
}

// Build assembles a ready-to-run engine from sc.
func Build(sc *Scenario, opts BuildOptions) (*Engine, error) {
	if sc == nil {
		return nil, fmt.Errorf("%w: nil scenario", ErrInvalidScenario)
	}
	log := logging.OrNoop(opts.Logger)

	contacts, err := sc.Contacts()
	if err != nil {
		return nil, err
	}
	kind, rcfg, err := sc.RoutingConfig()
	if err != nil {
		return nil, err
	}
	rcfg.Logger = log
	rcfg.Recorder = opts.Recorder
	rcfg.Contacts = contacts
	rcfg.RouterOptions = opts.RouterOptions
	strategy, err := routing.NewStrategy(kind, rcfg)
	if err != nil {
		return nil, err
	}

	mode := opts.Mode
	if opts.Pacing <= 0 {
		mode = timectrl.Accelerated
	}
	clock := timectrl.NewTimeController(sc.Start, opts.Pacing, mode)

	var (
		conn  Connectivity
		truth *cgr.Router
	)
	switch sc.Connectivity {
	case ConnectivitySchedule:
		windows := make([]LinkWindow, 0, len(sc.Links))
		for _, l := range sc.Links {
			end := model.Forever
			if l.End != nil {
				end = *l.End
			}
			windows = append(windows, LinkWindow{A: model.NodeID(l.A), B: model.NodeID(l.B), Start: l.Start, End: end})
		}
		conn = NewSchedule(windows)
	case ConnectivityFull:
		conn = FullConnectivity{}
	default:
		truth, err = cgr.NewRouterFromContacts(contacts, cgr.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
		}
		conn = PlanConnectivity{Plan: truth}
	}

	net, err := NewNetwork(NetworkConfig{
		Clock:          clock,
		Strategy:       strategy,
		Connectivity:   conn,
		BundleLifespan: sc.BundleLifespan,
		MappingTimeout: sc.MappingTimeout,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	for _, n := range sc.Nodes {
		role, err := model.ParseRole(n.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrInvalidScenario, n.ID, err)
		}
		if role == model.RoleClient {
			err = net.AddClient(model.NodeID(n.ID), n.Name, n.Client)
		} else {
			err = net.AddRouter(model.NodeID(n.ID), n.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("add node %d: %w", n.ID, err)
		}
	}

	steps := sc.Steps
	switch {
	case opts.Steps > 0:
		steps = opts.Steps
	case opts.Steps < 0:
		steps = 0
	}
	return NewEngine(EngineConfig{
		Network:  net,
		Clock:    clock,
		Steps:    steps,
		Order:    sc.Order,
		Seed:     sc.Seed,
		Traffic:  sc.Traffic,
		Events:   sc.Events,
		Truth:    truth,
		History:  state.NewHistory(opts.HistoryLimit),
		Observer: opts.Observer,
		Logger:   log,
	})
}
