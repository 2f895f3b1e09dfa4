package jurisdiction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/obs"
)

var (
	// ErrLengthMismatch is returned when points and dates differ in length.
	ErrLengthMismatch = errors.New("jurisdiction: points and dates length mismatch")
	// ErrPointIndex is returned when a store reports a hit for a point that was not asked for.
	ErrPointIndex = errors.New("jurisdiction: store returned out of range point index")
)

// Hit is one row of a batch containment query: the point at PointIndex lies
// inside the matched jurisdiction whose rate is active on that point's date.
type Hit struct {
	PointIndex int
	Match
}

// GeometryStore answers batched point-in-polygon queries. PointIndex in the
// returned hits is zero based and refers to the input slices.
type GeometryStore interface {
	BatchContains(ctx context.Context, points []geo.Point, dates []time.Time) ([]Hit, error)
}

// Resolver turns points and dates into ordered jurisdiction matches.
type Resolver struct {
	Store GeometryStore
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store GeometryStore) *Resolver {
	return &Resolver{Store: store}
}

// ResolveOne resolves a single point.
func (r *Resolver) ResolveOne(ctx context.Context, point geo.Point, date time.Time) ([]Match, error) {
	out, err := r.ResolveBatch(ctx, []geo.Point{point}, []time.Time{date})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// ResolveBatch resolves every point in one store round trip. out[i] always
// belongs to points[i]; points outside every jurisdiction get an empty slice.
func (r *Resolver) ResolveBatch(ctx context.Context, points []geo.Point, dates []time.Time) ([][]Match, error) {
	if len(points) != len(dates) {
		return nil, fmt.Errorf("%w: %d points, %d dates", ErrLengthMismatch, len(points), len(dates))
	}
	out := make([][]Match, len(points))
	for i := range out {
		out[i] = []Match{}
	}
	if len(points) == 0 {
		return out, nil
	}
	if r == nil || r.Store == nil {
		return nil, errors.New("jurisdiction: resolver store not configured")
	}

	start := time.Now()
	hits, err := r.Store.BatchContains(ctx, points, dates)
	obs.ObserveGeometryBatch(time.Since(start), len(points))
	if err != nil {
		return nil, fmt.Errorf("batch contains: %w", err)
	}
	for _, h := range hits {
		if h.PointIndex < 0 || h.PointIndex >= len(points) {
			return nil, fmt.Errorf("%w: %d", ErrPointIndex, h.PointIndex)
		}
		out[h.PointIndex] = append(out[h.PointIndex], h.Match)
	}
	for i := range out {
		Sort(out[i])
	}
	return out, nil
}
