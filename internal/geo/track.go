package geo

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
)

// Track accumulates a flight path.
type Track struct {
	flat []float64
}

// Add appends pos to the path.
func (t *Track) Add(pos Position) {
	t.flat = append(t.flat, pos.Longitude, pos.Latitude, pos.Altitude)
}

// Len returns the number of positions.
func (t *Track) Len() int { return len(t.flat) / 3 }

// LineString returns the path as an XYZ line string.
func (t *Track) LineString() (geom.LineString, error) {
	if t.Len() < 2 {
		return geom.LineString{}, fmt.Errorf("track must have at least 2 points, got %d", t.Len())
	}
	seq := geom.NewSequence(t.flat, geom.DimXYZ)
	return geom.NewLineString(seq), nil
}

type feature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// GeoJSON renders the path as a GeoJSON Feature carrying props.
func (t *Track) GeoJSON(props map[string]any) ([]byte, error) {
	ls, err := t.LineString()
	if err != nil {
		return nil, err
	}
	g, err := json.Marshal(ls)
	if err != nil {
		return nil, fmt.Errorf("encoding track geometry: %w", err)
	}
	if props == nil {
		props = map[string]any{}
	}
	return json.Marshal(feature{Type: "Feature", Geometry: g, Properties: props})
}
