package core

import (
	"fmt"
	"sort"

	"github.com/RyanCarrier/dijkstra"

	"github.com/signalsfoundry/dtn-simulator/model"
)

// PlanStats summarises a contact plan.
type PlanStats struct {
	NumContacts      int
	OpenEnded        int   // contacts that never close; excluded from durations
	TotalContactTime int64 // sum of end-start over closed contacts
	AvgContactTime   float64
	UniquePartners   int // unordered node pairs with at least one contact
	Nodes            []model.NodeID

	// Hops holds the minimum number of contacts needed to get from one node
	// to another when contact windows are ignored. Unreachable pairs are
	// absent.
	Hops map[model.NodeID]map[model.NodeID]int64
}

// AnalyzeContactPlan computes duration statistics and a static hop-distance
// table for contacts.
func AnalyzeContactPlan(contacts []model.Contact) (*PlanStats, error) {
	stats := &PlanStats{
		NumContacts: len(contacts),
		Hops:        make(map[model.NodeID]map[model.NodeID]int64),
	}

	type pair struct{ a, b model.NodeID }
	partners := make(map[pair]struct{})
	index := make(map[model.NodeID]int)
	addNode := func(id model.NodeID) {
		if _, ok := index[id]; !ok {
			index[id] = len(stats.Nodes)
			stats.Nodes = append(stats.Nodes, id)
		}
	}

	closed := 0
	for _, c := range contacts {
		addNode(c.Source)
		addNode(c.Dest)
		a, b := c.Source, c.Dest
		if b < a {
			a, b = b, a
		}
		partners[pair{a, b}] = struct{}{}
		if c.End == model.Forever {
			stats.OpenEnded++
			continue
		}
		stats.TotalContactTime += c.End - c.Start
		closed++
	}
	stats.UniquePartners = len(partners)
	if closed > 0 {
		stats.AvgContactTime = float64(stats.TotalContactTime) / float64(closed)
	}

	graph := dijkstra.NewGraph()
	for i := range stats.Nodes {
		graph.AddVertex(i)
	}
	for _, c := range contacts {
		if c.Source == c.Dest {
			continue
		}
		if err := graph.AddArc(index[c.Source], index[c.Dest], 1); err != nil {
			return nil, fmt.Errorf("analyze contact %d: %w", c.ID, err)
		}
	}

	for i, src := range stats.Nodes {
		for j, dst := range stats.Nodes {
			if i == j {
				continue
			}
			best, err := graph.Shortest(i, j)
			if err != nil {
				continue
			}
			if stats.Hops[src] == nil {
				stats.Hops[src] = make(map[model.NodeID]int64)
			}
			stats.Hops[src][dst] = best.Distance
		}
	}

	sort.Slice(stats.Nodes, func(i, j int) bool { return stats.Nodes[i] < stats.Nodes[j] })
	return stats, nil
}

// Reachable reports the static hop count from src to dst.
func (s *PlanStats) Reachable(src, dst model.NodeID) (int64, bool) {
	h, ok := s.Hops[src][dst]
	return h, ok
}
