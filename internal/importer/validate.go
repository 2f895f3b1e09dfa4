package importer

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/money"
)

// Row is a validated order ready for resolution.
type Row struct {
	Line     int
	Point    geo.Point
	Subtotal decimal.Decimal
	PlacedAt time.Time
	// Defaulted is set when the timestamp was missing or unparseable.
	Defaulted bool
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// Validator checks raw rows against the service region.
type Validator struct {
	Region geo.Envelope
	// Location interprets timestamps without a zone; nil means UTC.
	Location *time.Location
	Now      func() time.Time
}

// Validate converts raw into a Row or returns a *RowValidationError.
func (v Validator) Validate(raw RawRow) (Row, error) {
	lat, err := strconv.ParseFloat(raw.Lat, 64)
	if err != nil {
		return Row{}, &RowValidationError{Line: raw.Line, Field: "latitude", Reason: "not a number", Err: err}
	}
	lon, err := strconv.ParseFloat(raw.Lon, 64)
	if err != nil {
		return Row{}, &RowValidationError{Line: raw.Line, Field: "longitude", Reason: "not a number", Err: err}
	}
	pt := geo.Point{Lat: lat, Lon: lon}
	if !v.Region.Contains(pt) {
		return Row{}, &RowValidationError{Line: raw.Line, Field: "coordinates", Reason: "outside service region"}
	}

	subtotal, err := money.Parse(raw.Subtotal)
	if err != nil {
		return Row{}, &RowValidationError{Line: raw.Line, Field: "subtotal", Reason: "not a decimal", Err: err}
	}
	if !subtotal.IsPositive() {
		return Row{}, &RowValidationError{Line: raw.Line, Field: "subtotal", Reason: "must be positive"}
	}
	// Trailing zeros are fine ("100.000"); sub-cent precision is not.
	cents := subtotal.Truncate(money.AmountPlaces)
	if !subtotal.Equal(cents) {
		return Row{}, &RowValidationError{Line: raw.Line, Field: "subtotal", Reason: "more than 2 fractional digits"}
	}
	subtotal = cents

	placedAt, ok := v.parseTimestamp(raw.Timestamp)
	return Row{Line: raw.Line, Point: pt, Subtotal: subtotal, PlacedAt: placedAt, Defaulted: !ok}, nil
}

func (v Validator) parseTimestamp(s string) (time.Time, bool) {
	if s != "" {
		loc := v.Location
		if loc == nil {
			loc = time.UTC
		}
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, true
			}
		}
	}
	if v.Now != nil {
		return v.Now(), false
	}
	return time.Now(), false
}
