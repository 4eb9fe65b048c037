package cgr

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/dtn-simulator/model"
)

// Hop is one contact traversal along a route.
type Hop struct {
	Contact   model.Contact
	Departure int64
	Arrival   int64
}

// NextHop is the node the hop delivers to.
func (h Hop) NextHop() model.NodeID { return h.Contact.Dest }

// Route is an ordered list of hops from a source to a destination.
type Route struct {
	Hops []Hop
}

// NextHop returns the first hop's receiving node.
func (r *Route) NextHop() model.NodeID {
	return r.Hops[0].Contact.Dest
}

// FirstContact returns the contact the bundle leaves on.
func (r *Route) FirstContact() model.Contact {
	return r.Hops[0].Contact
}

// Arrival is the projected delivery tick at the destination.
func (r *Route) Arrival() int64 {
	return r.Hops[len(r.Hops)-1].Arrival
}

// Len returns the number of hops.
func (r *Route) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Hops)
}

// Nodes returns every node visited, source first.
func (r *Route) Nodes() []model.NodeID {
	if r.Len() == 0 {
		return nil
	}
	out := make([]model.NodeID, 0, len(r.Hops)+1)
	out = append(out, r.Hops[0].Contact.Source)
	for _, h := range r.Hops {
		out = append(out, h.Contact.Dest)
	}
	return out
}

// Clone returns a deep copy; nil stays nil.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	hops := make([]Hop, len(r.Hops))
	copy(hops, r.Hops)
	return &Route{Hops: hops}
}

func (r *Route) String() string {
	if r.Len() == 0 {
		return "route(none)"
	}
	parts := make([]string, 0, len(r.Hops)+1)
	for _, id := range r.Nodes() {
		parts = append(parts, fmt.Sprint(id))
	}
	return fmt.Sprintf("route(%s arrive=%d)", strings.Join(parts, "->"), r.Arrival())
}
