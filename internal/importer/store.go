package importer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/jurisdiction"
)

// OrderRecord is one persisted order with its computed tax.
type OrderRecord struct {
	ImportRunID   *uuid.UUID
	Point         geo.Point
	Subtotal      decimal.Decimal
	CompositeRate decimal.Decimal
	TaxAmount     decimal.Decimal
	TotalAmount   decimal.Decimal
	Breakdown     []byte
	Jurisdictions []byte
	PlacedAt      time.Time
}

// Run identifies one import attempt in the run log.
type Run struct {
	ID        uuid.UUID
	FileHash  string
	FileName  string
	FileSize  int64
	StartedAt time.Time
}

// UnitOfWork is scoped to one transaction. Geometry reads share its snapshot.
type UnitOfWork interface {
	Geometry() jurisdiction.GeometryStore
	InsertOrders(ctx context.Context, records []OrderRecord) error
}

// OrderStore runs fn inside a transaction that commits only if fn returns nil.
// The underlying connection is released on every return path.
type OrderStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// RunLog records import attempts.
type RunLog interface {
	HashExists(ctx context.Context, fileHash string) (bool, error)
	// Start records run; it returns ErrDuplicateRun if the hash is already present.
	Start(ctx context.Context, run Run) error
	Finish(ctx context.Context, runID uuid.UUID, summary Summary) error
}

// Store combines the collaborators the pipeline needs.
type Store interface {
	OrderStore
	RunLog
}

// Locker serializes runs across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}
