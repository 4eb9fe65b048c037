package sim

import (
	"github.com/signalsfoundry/dtn-simulator/internal/cgr"
	"github.com/signalsfoundry/dtn-simulator/model"
)

// Connectivity answers whether two nodes can exchange data at a tick. It
// stands in for the radio layer: the answer is a plain boolean.
type Connectivity interface {
	Connected(a, b model.NodeID, tick int64) bool
}

// FullConnectivity connects every pair at every tick.
type FullConnectivity struct{}

func (FullConnectivity) Connected(a, b model.NodeID, _ int64) bool { return a != b }

// LinkWindow is a symmetric link that is up for Start <= t < End.
type LinkWindow struct {
	A, B       model.NodeID
	Start, End int64
}

// Schedule connects nodes according to explicit link windows.
type Schedule struct {
	windows map[[2]model.NodeID][]LinkWindow
}

// NewSchedule indexes windows by unordered node pair.
func NewSchedule(windows []LinkWindow) *Schedule {
	s := &Schedule{windows: make(map[[2]model.NodeID][]LinkWindow)}
	for _, w := range windows {
		k := pairKey(w.A, w.B)
		s.windows[k] = append(s.windows[k], w)
	}
	return s
}

func (s *Schedule) Connected(a, b model.NodeID, tick int64) bool {
	if a == b {
		return false
	}
	for _, w := range s.windows[pairKey(a, b)] {
		if w.Start <= tick && tick < w.End {
			return true
		}
	}
	return false
}

func pairKey(a, b model.NodeID) [2]model.NodeID {
	if a > b {
		a, b = b, a
	}
	return [2]model.NodeID{a, b}
}

// PlanConnectivity derives connectivity from a reference contact plan: two
// nodes are connected while a contact between them, in either direction,
// is valid. The plan is the network-wide ground truth and receives the
// same mutations as the nodes' plans.
type PlanConnectivity struct {
	Plan *cgr.Router
}

func (p PlanConnectivity) Connected(a, b model.NodeID, tick int64) bool {
	if a == b || p.Plan == nil {
		return false
	}
	return p.Plan.HasContactInWindow(a, b, tick, tick+1) ||
		p.Plan.HasContactInWindow(b, a, tick, tick+1)
}
