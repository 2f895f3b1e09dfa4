package importer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// HashContent streams r through SHA-256 and returns the hex digest and byte count.
func HashContent(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash input: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// RawRow is one input record before validation.
type RawRow struct {
	Line      int
	Lat       string
	Lon       string
	Subtotal  string
	Timestamp string
}

type column int

const (
	colLat column = iota
	colLon
	colSubtotal
	colTimestamp
	columnCount
)

var headerAliases = map[string]column{
	"lat":        colLat,
	"latitude":   colLat,
	"lon":        colLon,
	"lng":        colLon,
	"long":       colLon,
	"longitude":  colLon,
	"subtotal":   colSubtotal,
	"amount":     colSubtotal,
	"timestamp":  colTimestamp,
	"ts":         colTimestamp,
	"created_at": colTimestamp,
	"date":       colTimestamp,
}

var columnNames = [columnCount]string{"latitude", "longitude", "subtotal", "timestamp"}

// Reader streams RawRows from CSV input with a header line.
type Reader struct {
	csv   *csv.Reader
	index [columnCount]int
}

// NewReader reads the header from r and maps it to the known columns.
// Header matching ignores case and surrounding whitespace.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty input", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	rd := &Reader{csv: cr}
	for i := range rd.index {
		rd.index[i] = -1
	}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if col, ok := headerAliases[name]; ok && rd.index[col] < 0 {
			rd.index[col] = i
		}
	}
	for _, col := range []column{colLat, colLon, colSubtotal} {
		if rd.index[col] < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, columnNames[col])
		}
	}
	return rd, nil
}

// Next returns the next row or io.EOF. Blank lines are skipped by the CSV layer.
func (r *Reader) Next() (RawRow, error) {
	rec, err := r.csv.Read()
	if err != nil {
		return RawRow{}, err
	}
	line, _ := r.csv.FieldPos(0)
	return RawRow{
		Line:      line,
		Lat:       field(rec, r.index[colLat]),
		Lon:       field(rec, r.index[colLon]),
		Subtotal:  field(rec, r.index[colSubtotal]),
		Timestamp: field(rec, r.index[colTimestamp]),
	}, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
