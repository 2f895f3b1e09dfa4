package jurisdiction

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/money"
)

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore answers containment queries against PostGIS. Bind it to the
// transaction of the unit of work so reads see a consistent snapshot.
type PGStore struct {
	Q Querier
}

// NewPGStore binds a store to q.
func NewPGStore(q Querier) *PGStore {
	return &PGStore{Q: q}
}

// points travel as parallel arrays; ordinality is one based
const batchContainsSQL = `
WITH pts AS (
    SELECT p.idx - 1 AS idx,
           ST_SetSRID(ST_MakePoint(p.lon, p.lat), 4326) AS geom,
           p.as_of
    FROM unnest($1::float8[], $2::float8[], $3::date[]) WITH ORDINALITY AS p(lon, lat, as_of, idx)
)
SELECT DISTINCT ON (pts.idx, j.id)
       pts.idx, j.id, j.name, j.type, r.rate::text
FROM pts
JOIN jurisdictions j ON ST_Contains(j.geom, pts.geom)
JOIN tax_rates r ON r.jurisdiction_id = j.id
     AND r.valid_from <= pts.as_of
     AND (r.valid_to IS NULL OR r.valid_to > pts.as_of)
ORDER BY pts.idx, j.id, r.valid_from DESC`

// BatchContains implements GeometryStore.
func (s *PGStore) BatchContains(ctx context.Context, points []geo.Point, dates []time.Time) ([]Hit, error) {
	if len(points) != len(dates) {
		return nil, ErrLengthMismatch
	}
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("jurisdiction: pg store not configured")
	}
	lons := make([]float64, len(points))
	lats := make([]float64, len(points))
	days := make([]time.Time, len(points))
	for i, p := range points {
		lons[i] = p.Lon
		lats[i] = p.Lat
		days[i] = Day(dates[i])
	}

	rows, err := s.Q.Query(ctx, batchContainsSQL, lons, lats, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]Hit, 0, len(points)*3)
	for rows.Next() {
		var (
			idx      int64
			h        Hit
			typeName string
			rateText string
		)
		if err := rows.Scan(&idx, &h.ID, &h.Name, &typeName, &rateText); err != nil {
			return nil, err
		}
		if h.Type, err = ParseType(typeName); err != nil {
			return nil, err
		}
		if h.Rate, err = money.Parse(rateText); err != nil {
			return nil, err
		}
		h.PointIndex = int(idx)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
