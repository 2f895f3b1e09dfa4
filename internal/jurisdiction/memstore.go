package jurisdiction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/money"
)

// Area is a jurisdiction held by MemoryStore, with its shape and rate history.
type Area struct {
	Jurisdiction
	Shape geo.MultiPolygon
	Rates []RateRecord
}

// MemoryStore is an in-process GeometryStore. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	areas []Area
	calls int
}

// NewMemoryStore returns a store holding the given areas.
func NewMemoryStore(areas ...Area) *MemoryStore {
	return &MemoryStore{areas: areas}
}

// Add registers another area.
func (s *MemoryStore) Add(a Area) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas = append(s.areas, a)
}

// Calls returns how many BatchContains round trips were served.
func (s *MemoryStore) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// BatchContains implements GeometryStore.
func (s *MemoryStore) BatchContains(ctx context.Context, points []geo.Point, dates []time.Time) ([]Hit, error) {
	if len(points) != len(dates) {
		return nil, ErrLengthMismatch
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls++
	areas := s.areas
	s.mu.Unlock()

	var hits []Hit
	for i, pt := range points {
		for _, a := range areas {
			if !a.Shape.Contains(pt) {
				continue
			}
			rec, ok := ActiveRate(a.Rates, dates[i])
			if !ok {
				continue
			}
			hits = append(hits, Hit{PointIndex: i, Match: Match{Jurisdiction: a.Jurisdiction, Rate: rec.Rate}})
		}
	}
	return hits, nil
}

type areaDoc struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Polygons [][][][2]float64 `json:"polygons"`
	Rates    []struct {
		Rate      string  `json:"rate"`
		ValidFrom string  `json:"valid_from"`
		ValidTo   *string `json:"valid_to"`
	} `json:"rates"`
}

// LoadAreas decodes a JSON document of the form
// {"jurisdictions":[{"id":1,"name":"..","type":"state","polygons":[[[[lat,lon],...]]],"rates":[...]}]}.
func LoadAreas(r io.Reader) ([]Area, error) {
	var doc struct {
		Jurisdictions []areaDoc `json:"jurisdictions"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode areas: %w", err)
	}
	areas := make([]Area, 0, len(doc.Jurisdictions))
	for _, d := range doc.Jurisdictions {
		typ, err := ParseType(d.Type)
		if err != nil {
			return nil, fmt.Errorf("jurisdiction %d: %w", d.ID, err)
		}
		area := Area{Jurisdiction: Jurisdiction{ID: d.ID, Name: d.Name, Type: typ}}
		for _, poly := range d.Polygons {
			rings := make([][]geo.Point, 0, len(poly))
			for _, ring := range poly {
				pts := make([]geo.Point, 0, len(ring))
				for _, c := range ring {
					pts = append(pts, geo.Point{Lat: c[0], Lon: c[1]})
				}
				rings = append(rings, pts)
			}
			area.Shape = append(area.Shape, geo.NewPolygon(rings...))
		}
		for _, rd := range d.Rates {
			rate, err := money.Parse(rd.Rate)
			if err != nil {
				return nil, fmt.Errorf("jurisdiction %d: %w", d.ID, err)
			}
			from, err := time.Parse(time.DateOnly, rd.ValidFrom)
			if err != nil {
				return nil, fmt.Errorf("jurisdiction %d valid_from: %w", d.ID, err)
			}
			rec := RateRecord{JurisdictionID: d.ID, Rate: rate, ValidFrom: from}
			if rd.ValidTo != nil {
				to, err := time.Parse(time.DateOnly, *rd.ValidTo)
				if err != nil {
					return nil, fmt.Errorf("jurisdiction %d valid_to: %w", d.ID, err)
				}
				rec.ValidTo = &to
			}
			area.Rates = append(area.Rates, rec)
		}
		if err := ValidateHistory(area.Rates); err != nil {
			return nil, fmt.Errorf("jurisdiction %d: %w", d.ID, err)
		}
		areas = append(areas, area)
	}
	return areas, nil
}
