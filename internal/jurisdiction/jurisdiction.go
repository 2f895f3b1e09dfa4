// Package jurisdiction resolves the taxing authorities that cover a point on a
// given date. Spatial containment is delegated to a GeometryStore.
package jurisdiction

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type classifies a jurisdiction. The numeric order is the resolution order.
type Type int

const (
	TypeState Type = iota
	TypeCounty
	TypeCity
	TypeSpecial
)

// ErrUnknownType is returned when a stored type name is not recognised.
var ErrUnknownType = errors.New("jurisdiction: unknown type")

var typeNames = [...]string{"state", "county", "city", "special"}

func (t Type) String() string {
	if t < TypeState || t > TypeSpecial {
		return fmt.Sprintf("type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType maps a stored type name to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "state":
		return TypeState, nil
	case "county":
		return TypeCounty, nil
	case "city":
		return TypeCity, nil
	case "special", "special_district":
		return TypeSpecial, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// MarshalText implements encoding.TextMarshaler so Type works as a JSON map key.
func (t Type) MarshalText() ([]byte, error) {
	if t < TypeState || t > TypeSpecial {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}
	return []byte(typeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Jurisdiction is a named taxing authority. Its geometry lives in the store.
type Jurisdiction struct {
	ID   int64
	Name string
	Type Type
}

// RateRecord is one interval of a jurisdiction's rate history. ValidFrom is
// inclusive, ValidTo exclusive; a nil ValidTo means still active.
type RateRecord struct {
	JurisdictionID int64
	Rate           decimal.Decimal
	ValidFrom      time.Time
	ValidTo        *time.Time
}

// ActiveOn reports whether the record covers date d.
func (r RateRecord) ActiveOn(d time.Time) bool {
	day := Day(d)
	if Day(r.ValidFrom).After(day) {
		return false
	}
	return r.ValidTo == nil || Day(*r.ValidTo).After(day)
}

// ActiveRate picks the record active on d. When the history wrongly holds more
// than one active record the latest ValidFrom wins.
func ActiveRate(records []RateRecord, d time.Time) (RateRecord, bool) {
	var (
		best  RateRecord
		found bool
	)
	for _, r := range records {
		if !r.ActiveOn(d) {
			continue
		}
		if !found || r.ValidFrom.After(best.ValidFrom) {
			best = r
			found = true
		}
	}
	return best, found
}

// Match is a jurisdiction found to contain a point together with the rate
// active on the requested date.
type Match struct {
	Jurisdiction
	Rate decimal.Decimal
}

// Sort orders matches by type, then name, then id.
func Sort(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

// Day returns t's calendar date, read in t's own location, as midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var (
	// ErrEmptyInterval means a record ends on or before it starts.
	ErrEmptyInterval = errors.New("jurisdiction: valid_from must precede valid_to")
	// ErrOverlap means two records cover the same date.
	ErrOverlap = errors.New("jurisdiction: overlapping rate records")
)

// ValidateHistory checks a single jurisdiction's rate records: every closed
// interval is non-empty and no two intervals share a date. Two open records
// always overlap, so at most one can be open.
func ValidateHistory(records []RateRecord) error {
	sorted := make([]RateRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ValidFrom.Before(sorted[j].ValidFrom) })

	for i, r := range sorted {
		if r.ValidTo != nil && !Day(r.ValidFrom).Before(Day(*r.ValidTo)) {
			return fmt.Errorf("%w: record starting %s", ErrEmptyInterval, r.ValidFrom.Format(time.DateOnly))
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.ValidTo == nil || Day(*prev.ValidTo).After(Day(r.ValidFrom)) {
			return fmt.Errorf("%w: %s and %s", ErrOverlap,
				prev.ValidFrom.Format(time.DateOnly), r.ValidFrom.Format(time.DateOnly))
		}
	}
	return nil
}
