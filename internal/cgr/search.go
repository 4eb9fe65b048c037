package cgr

import (
	"container/heap"
	"math"

	"github.com/signalsfoundry/dtn-simulator/model"
)

// label is a partial route ending at node with a projected arrival tick.
type label struct {
	node    model.NodeID
	arrival int64
	hops    int

	// Inherited from the first hop; used for tie-breaking.
	nextHop      model.NodeID
	firstContact model.ContactID

	parent  *label
	contact model.Contact
	depart  int64
}

// better orders labels by earliest arrival, then fewest hops, then lowest
// next-hop ID, then lowest first-contact ID.
func (l *label) better(o *label) bool {
	if l.arrival != o.arrival {
		return l.arrival < o.arrival
	}
	if l.hops != o.hops {
		return l.hops < o.hops
	}
	if l.nextHop != o.nextHop {
		return l.nextHop < o.nextHop
	}
	return l.firstContact < o.firstContact
}

// visits reports whether node lies on the chain ending at l.
func (l *label) visits(node model.NodeID) bool {
	for ; l != nil; l = l.parent {
		if l.node == node {
			return true
		}
	}
	return false
}

type labelQueue []*label

func (q labelQueue) Len() int           { return len(q) }
func (q labelQueue) Less(i, j int) bool { return q[i].better(q[j]) }
func (q labelQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *labelQueue) Push(x any)        { *q = append(*q, x.(*label)) }
func (q *labelQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

type stateKey struct {
	node    model.NodeID
	arrival int64
}

// search runs a label-setting search over (node, arrival) states.
//
// A contact can be taken only when the projected arrival at its source lies
// inside [Start,End). Because of that, a later arrival at a node can open
// contacts an earlier one cannot, so states are keyed by arrival as well as
// node. Past the last finite breakpoint of the plan the set of usable
// contacts no longer changes, and all such arrivals collapse into one state
// per node.
//
// Routes are loop-free: a label never extends to a node already on its own
// chain. Every arrival therefore comes from a distinct simple path, which
// bounds the number of states by the plan's topology rather than by how far
// in the future its breakpoints lie.
func search(contacts []model.Contact, src, dst model.NodeID, now, size int64) *Route {
	if len(contacts) == 0 {
		return nil
	}

	horizon := int64(math.MinInt64)
	bySource := make(map[model.NodeID][]int)
	for i, c := range contacts {
		bySource[c.Source] = append(bySource[c.Source], i)
		horizon = max(horizon, c.Start)
		if c.End != model.Forever {
			horizon = max(horizon, c.End)
		}
	}
	keyOf := func(l *label) stateKey {
		if l.arrival > horizon {
			return stateKey{node: l.node, arrival: horizon + 1}
		}
		return stateKey{node: l.node, arrival: l.arrival}
	}

	settled := make(map[stateKey]struct{})
	pq := &labelQueue{{node: src, arrival: now}}

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*label)
		key := keyOf(cur)
		if _, done := settled[key]; done {
			continue
		}
		settled[key] = struct{}{}

		if cur.node == dst {
			return buildRoute(cur)
		}

		for _, i := range bySource[cur.node] {
			c := contacts[i]
			if !c.ValidAt(cur.arrival) || cur.visits(c.Dest) {
				continue
			}
			next := &label{
				node:    c.Dest,
				arrival: saturatingAdd(saturatingAdd(cur.arrival, c.TransmitTicks(size)), c.OWLT),
				hops:    cur.hops + 1,
				parent:  cur,
				contact: c,
				depart:  cur.arrival,
			}
			if cur.parent == nil {
				next.nextHop, next.firstContact = c.Dest, c.ID
			} else {
				next.nextHop, next.firstContact = cur.nextHop, cur.firstContact
			}
			if _, done := settled[keyOf(next)]; done {
				continue
			}
			heap.Push(pq, next)
		}
	}
	return nil
}

func buildRoute(end *label) *Route {
	hops := make([]Hop, end.hops)
	for l := end; l.parent != nil; l = l.parent {
		hops[l.hops-1] = Hop{Contact: l.contact, Departure: l.depart, Arrival: l.arrival}
	}
	return &Route{Hops: hops}
}
