// Package geo places the simulator's local flight frame on the globe.
//
// RealFlight reports aircraft position in metres north (X) and east (Y) of
// the airfield origin. A Projector anchors that frame at a WGS84 origin via
// Web Mercator (EPSG:3857), where one local metre spans sec(latitude)
// projected units.
package geo

import (
	"errors"
	"math"

	"github.com/rflink/bridge/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Position is a WGS84 location with altitude in metres.
type Position struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Altitude  float64 `json:"altitude"`
}

// Projector converts local positions to WGS84.
type Projector struct {
	origin   Position
	x, y     float64 // origin in EPSG:3857
	scale    float64
	fromWebM func(a, b, c float64) (float64, float64, float64)
}

// NewProjector anchors the local frame at origin.
func NewProjector(origin Position) (*Projector, error) {
	if math.IsNaN(origin.Longitude) || math.IsNaN(origin.Latitude) ||
		origin.Longitude < -180 || origin.Longitude > 180 ||
		origin.Latitude < -85 || origin.Latitude > 85 {
		return nil, ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	x, y, _ := epsg.Transform(4326, 3857)(origin.Longitude, origin.Latitude, 0)
	return &Projector{
		origin:   origin,
		x:        x,
		y:        y,
		scale:    1 / math.Cos(origin.Latitude*math.Pi/180),
		fromWebM: epsg.Transform(3857, 4326),
	}, nil
}

// Origin returns the anchor position.
func (p *Projector) Origin() Position { return p.origin }

// Project converts metres north and east of the origin, and metres above
// the origin's altitude, into a WGS84 position.
func (p *Projector) Project(north, east, up float64) Position {
	lon, lat, _ := p.fromWebM(p.x+east*p.scale, p.y+north*p.scale, 0)
	return Position{Longitude: lon, Latitude: lat, Altitude: p.origin.Altitude + up}
}

// State returns where the aircraft in st is.
func (p *Projector) State(st *core.SimulatorState) Position {
	return p.Project(st.AircraftPositionX, st.AircraftPositionY, st.AltitudeASL)
}

// Point converts pos into an XYZ point (lon, lat, altitude).
func Point(pos Position) geom.Point {
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: pos.Longitude, Y: pos.Latitude},
			Z:    pos.Altitude,
			Type: geom.CoordinatesType(geom.DimXYZ),
		},
	)
}
