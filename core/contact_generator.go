package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/signalsfoundry/dtn-simulator/model"
)

// Orbiter is a node whose position comes from a TLE.
type Orbiter struct {
	ID    model.NodeID
	TLE1  string
	TLE2  string
	Label string
}

// GroundSite is a node fixed on the surface.
type GroundSite struct {
	ID     model.NodeID
	LatDeg float64
	LonDeg float64
	AltKm  float64
	Label  string
}

// GeneratorConfig controls contact-plan generation.
type GeneratorConfig struct {
	Epoch        time.Time     // wall-clock instant of tick 0
	TickDuration time.Duration // wall-clock length of one tick
	Ticks        int64         // number of ticks to sample

	MaxRangeKm      float64 // 0 disables the range limit
	MinElevationDeg float64 // mask applied at ground sites
	Rate            float64 // bytes per tick on generated contacts
	Confidence      float64 // 0 means 1
}

func (c GeneratorConfig) validate() error {
	var errs []error
	if c.TickDuration <= 0 {
		errs = append(errs, errors.New("tick duration must be positive"))
	}
	if c.Ticks <= 0 {
		errs = append(errs, errors.New("ticks must be positive"))
	}
	if c.Rate <= 0 {
		errs = append(errs, errors.New("rate must be positive"))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		errs = append(errs, errors.New("confidence must be within [0,1]"))
	}
	return errors.Join(errs...)
}

type genNode struct {
	id     model.NodeID
	ground bool
	pos    PositionSource
}

type window struct {
	start    int64
	maxRange float64
}

// GenerateContacts samples every node position once per tick and emits a
// pair of directed contacts for every maximal run of ticks during which two
// nodes can see each other. Ground sites never contact each other.
//
// OWLT is the largest range seen during the window divided by the speed of
// light, rounded up to whole ticks. Contacts are numbered from 0 in order of
// (start, source, dest).
func GenerateContacts(cfg GeneratorConfig, orbiters []Orbiter, sites []GroundSite) ([]model.Contact, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("generator config: %w", err)
	}
	conf := cfg.Confidence
	if conf == 0 {
		conf = 1
	}

	nodes := make([]genNode, 0, len(orbiters)+len(sites))
	seen := make(map[model.NodeID]bool)
	for _, o := range orbiters {
		if seen[o.ID] {
			return nil, fmt.Errorf("duplicate node id %d", o.ID)
		}
		seen[o.ID] = true
		src, err := NewOrbitalFromTLE(o.TLE1, o.TLE2)
		if err != nil {
			return nil, fmt.Errorf("orbiter %d: %w", o.ID, err)
		}
		nodes = append(nodes, genNode{id: o.ID, pos: src})
	}
	for _, s := range sites {
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate node id %d", s.ID)
		}
		seen[s.ID] = true
		nodes = append(nodes, genNode{id: s.ID, ground: true, pos: FixedPosition(GeodeticToECEF(s.LatDeg, s.LonDeg, s.AltKm))})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].id < nodes[j].id })

	type pairKey struct{ a, b int }
	open := make(map[pairKey]*window)
	var contacts []model.Contact
	tickSeconds := cfg.TickDuration.Seconds()

	emit := func(k pairKey, w *window, end int64) {
		owlt := int64(math.Ceil(w.maxRange / SpeedOfLightKmPerSec / tickSeconds))
		a, b := nodes[k.a].id, nodes[k.b].id
		for _, dir := range [2][2]model.NodeID{{a, b}, {b, a}} {
			contacts = append(contacts, model.Contact{
				Source:     dir[0],
				Dest:       dir[1],
				Start:      w.start,
				End:        end,
				Rate:       cfg.Rate,
				OWLT:       owlt,
				Confidence: conf,
			})
		}
	}

	positions := make([]Vec3, len(nodes))
	for tick := int64(0); tick < cfg.Ticks; tick++ {
		at := cfg.Epoch.Add(time.Duration(tick) * cfg.TickDuration)
		for i, n := range nodes {
			positions[i] = n.pos.PositionAt(at)
		}
		for i := 0; i < len(nodes); i++ {
			for j := i + 1; j < len(nodes); j++ {
				k := pairKey{i, j}
				visible, rng := cfg.visible(nodes[i], nodes[j], positions[i], positions[j])
				w := open[k]
				switch {
				case visible && w == nil:
					open[k] = &window{start: tick, maxRange: rng}
				case visible:
					w.maxRange = math.Max(w.maxRange, rng)
				case w != nil:
					emit(k, w, tick)
					delete(open, k)
				}
			}
		}
	}
	for k, w := range open {
		emit(k, w, cfg.Ticks)
	}

	sort.Slice(contacts, func(i, j int) bool {
		a, b := contacts[i], contacts[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Dest < b.Dest
	})
	for i := range contacts {
		contacts[i].ID = model.ContactID(i)
	}
	return contacts, nil
}

func (c GeneratorConfig) visible(a, b genNode, pa, pb Vec3) (bool, float64) {
	if a.ground && b.ground {
		return false, 0
	}
	rng := pa.DistanceTo(pb)
	if c.MaxRangeKm > 0 && rng > c.MaxRangeKm {
		return false, rng
	}
	switch {
	case a.ground:
		return ElevationDegrees(pa, pb) >= c.MinElevationDeg, rng
	case b.ground:
		return ElevationDegrees(pb, pa) >= c.MinElevationDeg, rng
	default:
		return hasLineOfSight(pa, pb), rng
	}
}
