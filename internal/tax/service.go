package tax

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/jurisdiction"
)

// Query is a single tax question.
type Query struct {
	Point    geo.Point
	Subtotal decimal.Decimal
	AsOf     time.Time
}

// PointResolver is the subset of jurisdiction.Resolver used for quotes.
type PointResolver interface {
	ResolveOne(ctx context.Context, point geo.Point, date time.Time) ([]jurisdiction.Match, error)
}

// Service answers ad hoc tax queries outside of an import run.
type Service struct {
	Resolver PointResolver
}

// Quote resolves q's point and applies the composite rate to its subtotal.
func (s *Service) Quote(ctx context.Context, q Query) (Result, error) {
	if s == nil || s.Resolver == nil {
		return Result{}, errors.New("tax: resolver not configured")
	}
	matches, err := s.Resolver.ResolveOne(ctx, q.Point, q.AsOf)
	if err != nil {
		return Result{}, err
	}
	return Calculate(matches, q.Subtotal), nil
}
