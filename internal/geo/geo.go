// Package geo contains WGS84 point, envelope and polygon primitives used by the
// in-memory jurisdiction store and import validation.
package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Envelope is an axis-aligned bounding box, inclusive on all edges.
type Envelope struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// ErrInvalidEnvelope is returned when an envelope definition cannot be parsed.
var ErrInvalidEnvelope = errors.New("geo: invalid envelope")

// Contains reports whether p lies inside the envelope.
func (e Envelope) Contains(p Point) bool {
	return p.Lat >= e.MinLat && p.Lat <= e.MaxLat && p.Lon >= e.MinLon && p.Lon <= e.MaxLon
}

// ParseEnvelope reads "minLat,minLon,maxLat,maxLon".
func ParseEnvelope(s string) (Envelope, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Envelope{}, fmt.Errorf("%w: want 4 values, got %d", ErrInvalidEnvelope, len(parts))
	}
	var vals [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		vals[i] = v
	}
	env := Envelope{MinLat: vals[0], MinLon: vals[1], MaxLat: vals[2], MaxLon: vals[3]}
	if env.MinLat > env.MaxLat || env.MinLon > env.MaxLon {
		return Envelope{}, fmt.Errorf("%w: min exceeds max", ErrInvalidEnvelope)
	}
	return env, nil
}

// Polygon is a GeoJSON style ring set. The first ring is the shell, the rest
// are holes.
type Polygon struct {
	Rings [][]Point
	bbox  Envelope
	boxed bool
}

// NewPolygon builds a polygon and precomputes its bounding box.
func NewPolygon(rings ...[]Point) Polygon {
	p := Polygon{Rings: rings}
	p.bbox, p.boxed = boundsOf(rings)
	return p
}

// Bounds returns the polygon's bounding box.
func (p Polygon) Bounds() Envelope {
	if p.boxed {
		return p.bbox
	}
	b, _ := boundsOf(p.Rings)
	return b
}

// Contains reports whether pt is inside the shell and outside every hole.
func (p Polygon) Contains(pt Point) bool {
	if len(p.Rings) == 0 {
		return false
	}
	if !p.Bounds().Contains(pt) {
		return false
	}
	if !inRing(pt, p.Rings[0]) {
		return false
	}
	for _, hole := range p.Rings[1:] {
		if inRing(pt, hole) {
			return false
		}
	}
	return true
}

// MultiPolygon is a union of polygons.
type MultiPolygon []Polygon

// Contains reports whether any member polygon contains pt.
func (m MultiPolygon) Contains(pt Point) bool {
	for _, p := range m {
		if p.Contains(pt) {
			return true
		}
	}
	return false
}

// even-odd ray cast along the longitude axis
func inRing(pt Point, ring []Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt.Lon, pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func boundsOf(rings [][]Point) (Envelope, bool) {
	if len(rings) == 0 || len(rings[0]) == 0 {
		return Envelope{}, false
	}
	shell := rings[0]
	b := Envelope{MinLat: shell[0].Lat, MaxLat: shell[0].Lat, MinLon: shell[0].Lon, MaxLon: shell[0].Lon}
	for _, pt := range shell[1:] {
		if pt.Lat < b.MinLat {
			b.MinLat = pt.Lat
		}
		if pt.Lat > b.MaxLat {
			b.MaxLat = pt.Lat
		}
		if pt.Lon < b.MinLon {
			b.MinLon = pt.Lon
		}
		if pt.Lon > b.MaxLon {
			b.MaxLon = pt.Lon
		}
	}
	return b, true
}

// Rect is a convenience for building rectangular shells.
func Rect(minLat, minLon, maxLat, maxLon float64) []Point {
	return []Point{
		{Lat: minLat, Lon: minLon},
		{Lat: minLat, Lon: maxLon},
		{Lat: maxLat, Lon: maxLon},
		{Lat: maxLat, Lon: minLon},
	}
}
