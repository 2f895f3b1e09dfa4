package importer_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/importer"
	"github.com/noah-isme/drone-tax/internal/jurisdiction"
	"github.com/noah-isme/drone-tax/internal/money"
)

var nyRegion = geo.Envelope{MinLat: 40.49, MinLon: -79.77, MaxLat: 45.02, MaxLon: -71.78}

func since(s string) []jurisdiction.RateRecord {
	return []jurisdiction.RateRecord{{Rate: money.MustParse(s), ValidFrom: time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC)}}
}

func newYorkGeometry() *jurisdiction.MemoryStore {
	return jurisdiction.NewMemoryStore(
		jurisdiction.Area{
			Jurisdiction: jurisdiction.Jurisdiction{ID: 1, Name: "New York", Type: jurisdiction.TypeState},
			Shape:        geo.MultiPolygon{geo.NewPolygon(geo.Rect(40.49, -79.77, 45.02, -71.78))},
			Rates:        since("0.040000"),
		},
		jurisdiction.Area{
			Jurisdiction: jurisdiction.Jurisdiction{ID: 2, Name: "New York County", Type: jurisdiction.TypeCounty},
			Shape:        geo.MultiPolygon{geo.NewPolygon(geo.Rect(40.70, -74.02, 40.88, -73.91))},
			Rates:        since("0.045000"),
		},
		jurisdiction.Area{
			Jurisdiction: jurisdiction.Jurisdiction{ID: 3, Name: "MCTD", Type: jurisdiction.TypeSpecial},
			Shape:        geo.MultiPolygon{geo.NewPolygon(geo.Rect(40.49, -74.26, 41.50, -73.30))},
			Rates:        since("0.003750"),
		},
	)
}

// memoryStore mimics the Postgres store: orders become visible only when the
// transaction function returns nil.
type memoryStore struct {
	geometry   jurisdiction.GeometryStore
	failInsert func(records []importer.OrderRecord) error
	insertWait time.Duration

	mu       sync.Mutex
	orders   []importer.OrderRecord
	runs     map[string]importer.Run
	finished map[uuid.UUID]importer.Summary
	openTx   int
	maxOpen  int
}

func newMemoryStore(geometry jurisdiction.GeometryStore) *memoryStore {
	return &memoryStore{
		geometry: geometry,
		runs:     map[string]importer.Run{},
		finished: map[uuid.UUID]importer.Summary{},
	}
}

func (s *memoryStore) InTx(ctx context.Context, fn func(context.Context, importer.UnitOfWork) error) error {
	s.mu.Lock()
	s.openTx++
	if s.openTx > s.maxOpen {
		s.maxOpen = s.openTx
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.openTx--
		s.mu.Unlock()
	}()

	tx := &memoryTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.mu.Lock()
	s.orders = append(s.orders, tx.pending...)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) HashExists(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[hash]
	return ok, nil
}

func (s *memoryStore) Start(_ context.Context, run importer.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.FileHash]; ok {
		return importer.ErrDuplicateRun
	}
	s.runs[run.FileHash] = run
	return nil
}

func (s *memoryStore) Finish(_ context.Context, id uuid.UUID, summary importer.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[id] = summary
	return nil
}

func (s *memoryStore) snapshot() (orders []importer.OrderRecord, runs int, open int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]importer.OrderRecord(nil), s.orders...), len(s.runs), s.openTx
}

type memoryTx struct {
	store   *memoryStore
	pending []importer.OrderRecord
}

func (tx *memoryTx) Geometry() jurisdiction.GeometryStore { return tx.store.geometry }

func (tx *memoryTx) InsertOrders(_ context.Context, records []importer.OrderRecord) error {
	if tx.store.insertWait > 0 {
		time.Sleep(tx.store.insertWait)
	}
	if tx.store.failInsert != nil {
		if err := tx.store.failInsert(records); err != nil {
			return err
		}
	}
	tx.pending = append(tx.pending, records...)
	return nil
}

type failingGeometry struct{ err error }

func (g failingGeometry) BatchContains(context.Context, []geo.Point, []time.Time) ([]jurisdiction.Hit, error) {
	return nil, g.err
}
