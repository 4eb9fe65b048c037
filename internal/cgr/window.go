package cgr

import "github.com/signalsfoundry/dtn-simulator/model"

// overlaps reports whether [aStart,aEnd) and [bStart,bEnd) intersect.
func overlaps(aStart, aEnd, bStart, bEnd int64) bool {
	return aStart < bEnd && bStart < aEnd
}

// subtractWindow returns what is left of c after removing [start,end): zero,
// one or two contacts, earliest first. Both pieces keep c's ID; the caller
// renumbers the second.
func subtractWindow(c model.Contact, start, end int64) []model.Contact {
	var out []model.Contact
	if c.Start < start {
		left := c
		left.End = min(c.End, start)
		out = append(out, left)
	}
	if end < c.End {
		right := c
		right.Start = max(c.Start, end)
		out = append(out, right)
	}
	return out
}

// saturatingAdd adds non-negative b to a, clamping at model.Forever.
func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > model.Forever-b {
		return model.Forever
	}
	return a + b
}
