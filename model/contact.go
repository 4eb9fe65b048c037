package model

import (
	"fmt"
	"math"
)

// Forever is used as a contact end time for links that never close.
const Forever int64 = math.MaxInt64

// ContactID identifies a contact inside one router's contact plan.
type ContactID int64

// Contact is a directed, time-bounded link from Source to Dest. It is valid
// for ticks t with Start <= t < End.
type Contact struct {
	ID         ContactID
	Source     NodeID
	Dest       NodeID
	Start      int64
	End        int64
	Rate       float64 // bytes per tick
	OWLT       int64   // one-way light time, ticks
	Confidence float64
}

// ValidAt reports whether the contact can be used at tick t.
func (c Contact) ValidAt(t int64) bool {
	return c.Start <= t && t < c.End
}

// Touches reports whether the contact starts or ends at node id.
func (c Contact) Touches(id NodeID) bool {
	return c.Source == id || c.Dest == id
}

// Between reports whether the contact connects a and b in either direction.
func (c Contact) Between(a, b NodeID) bool {
	return (c.Source == a && c.Dest == b) || (c.Source == b && c.Dest == a)
}

// SameLink reports whether two contacts describe the same link, ignoring ID.
func (c Contact) SameLink(o Contact) bool {
	return c.Source == o.Source && c.Dest == o.Dest &&
		c.Start == o.Start && c.End == o.End &&
		c.Rate == o.Rate && c.OWLT == o.OWLT && c.Confidence == o.Confidence
}

// TransmitTicks returns the ticks needed to push size bytes over the contact.
func (c Contact) TransmitTicks(size int64) int64 {
	if size <= 0 || c.Rate <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(size) / c.Rate))
}

func (c Contact) String() string {
	end := fmt.Sprint(c.End)
	if c.End == Forever {
		end = "inf"
	}
	return fmt.Sprintf("contact#%d(%d->%d [%d,%s))", c.ID, c.Source, c.Dest, c.Start, end)
}
