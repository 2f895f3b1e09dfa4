package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/importer"
	"github.com/noah-isme/drone-tax/internal/jurisdiction"
	"github.com/noah-isme/drone-tax/internal/money"
	"github.com/noah-isme/drone-tax/internal/tax"
)

// Store persists orders and import runs. It implements importer.Store.
type Store struct {
	db Beginner
}

// NewStore wraps a pool or any other Beginner.
func NewStore(db Beginner) *Store {
	return &Store{db: db}
}

// Geometry returns a geometry store reading outside of any transaction.
func (s *Store) Geometry() jurisdiction.GeometryStore {
	if s == nil || s.db == nil {
		return jurisdiction.NewPGStore(nil)
	}
	return jurisdiction.NewPGStore(s.db)
}

// InTx runs fn in a read-committed transaction, committing only when fn
// returns nil. The deferred rollback is a no-op after a successful commit.
func (s *Store) InTx(ctx context.Context, fn func(context.Context, importer.UnitOfWork) error) (err error) {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(ctx, unitOfWork{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type unitOfWork struct {
	tx pgx.Tx
}

func (u unitOfWork) Geometry() jurisdiction.GeometryStore {
	return jurisdiction.NewPGStore(u.tx)
}

func (u unitOfWork) InsertOrders(ctx context.Context, records []importer.OrderRecord) error {
	return insertOrders(ctx, u.tx, records)
}

// one statement per chunk; every column travels as an array of equal length
const insertOrdersSQL = `
INSERT INTO orders (import_log_id, lat, lon, subtotal, composite_rate, tax_amount, total_amount, breakdown, jurisdictions, placed_at)
SELECT $1::uuid, o.lat, o.lon, o.subtotal::numeric, o.composite_rate::numeric, o.tax_amount::numeric,
       o.total_amount::numeric, o.breakdown::jsonb, o.jurisdictions::jsonb, o.placed_at
FROM unnest($2::float8[], $3::float8[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[], $9::text[], $10::timestamptz[])
     AS o(lat, lon, subtotal, composite_rate, tax_amount, total_amount, breakdown, jurisdictions, placed_at)`

func insertOrders(ctx context.Context, q DBTX, records []importer.OrderRecord) error {
	if len(records) == 0 {
		return nil
	}
	var runID any
	if id := records[0].ImportRunID; id != nil {
		runID = id.String()
	}
	n := len(records)
	var (
		lats, lons                      = make([]float64, n), make([]float64, n)
		subtotals, rates, taxes, totals = make([]string, n), make([]string, n), make([]string, n), make([]string, n)
		breakdowns, applied             = make([]string, n), make([]string, n)
		placedAt                        = make([]time.Time, n)
	)
	for i, r := range records {
		if !sameRun(r.ImportRunID, records[0].ImportRunID) {
			return fmt.Errorf("insert orders: record %d belongs to a different run", i)
		}
		lats[i], lons[i] = r.Point.Lat, r.Point.Lon
		subtotals[i] = money.FormatAmount(r.Subtotal)
		rates[i] = money.FormatRate(r.CompositeRate)
		taxes[i] = money.FormatAmount(r.TaxAmount)
		totals[i] = money.FormatAmount(r.TotalAmount)
		breakdowns[i] = jsonOrDefault(r.Breakdown, "{}")
		applied[i] = jsonOrDefault(r.Jurisdictions, "[]")
		placedAt[i] = r.PlacedAt
	}
	tag, err := q.Exec(ctx, insertOrdersSQL, runID, lats, lons, subtotals, rates, taxes, totals, breakdowns, applied, placedAt)
	if err != nil {
		return fmt.Errorf("insert orders: %w", err)
	}
	if tag.RowsAffected() != int64(n) {
		return fmt.Errorf("insert orders: wrote %d of %d rows", tag.RowsAffected(), n)
	}
	return nil
}

func sameRun(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func jsonOrDefault(b []byte, fallback string) string {
	if len(b) == 0 {
		return fallback
	}
	return string(b)
}

// SaveQuote stores a manually entered order with no import run.
func (s *Store) SaveQuote(ctx context.Context, point geo.Point, placedAt time.Time, res tax.Result) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	breakdown, err := res.BreakdownJSON()
	if err != nil {
		return err
	}
	applied, err := res.JurisdictionsJSON()
	if err != nil {
		return err
	}
	return insertOrders(ctx, s.db, []importer.OrderRecord{{
		Point:         point,
		Subtotal:      res.Subtotal,
		CompositeRate: res.Rate,
		TaxAmount:     res.TaxAmount,
		TotalAmount:   res.TotalAmount,
		Breakdown:     breakdown,
		Jurisdictions: applied,
		PlacedAt:      placedAt,
	}})
}

// Ping checks connectivity within timeout.
func (s *Store) Ping(ctx context.Context, timeout time.Duration) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var one int
	return s.db.QueryRow(ctx, `SELECT 1`).Scan(&one)
}
