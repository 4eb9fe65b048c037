package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// ErrInvalidTLE is returned when a two-line element set is malformed.
var ErrInvalidTLE = errors.New("invalid TLE")

// PositionSource yields an ECEF position (km) for a wall-clock instant.
type PositionSource interface {
	PositionAt(t time.Time) Vec3
}

// FixedPosition is a site that does not move in the Earth-fixed frame.
type FixedPosition Vec3

// PositionAt returns the fixed position.
func (p FixedPosition) PositionAt(time.Time) Vec3 { return Vec3(p) }

// OrbitalSGP4 propagates a TLE with SGP4.
type OrbitalSGP4 struct {
	sat satellite.Satellite
}

// NewOrbitalFromTLE constructs an orbital position source from TLE lines.
func NewOrbitalFromTLE(line1, line2 string) (*OrbitalSGP4, error) {
	line1 = strings.TrimRight(line1, " \r\n")
	line2 = strings.TrimRight(line2, " \r\n")
	if len(line1) < 69 || len(line2) < 69 || line1[0] != '1' || line2[0] != '2' {
		return nil, fmt.Errorf("%w: expected two 69-column lines starting with 1 and 2", ErrInvalidTLE)
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &OrbitalSGP4{sat: sat}, nil
}

// PositionAt propagates the satellite to t and rotates the result into
// the Earth-fixed frame. go-satellite works in kilometres.
func (m *OrbitalSGP4) PositionAt(t time.Time) Vec3 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	return Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
}
