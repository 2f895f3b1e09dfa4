// Package tax combines resolved jurisdiction rates into a composite rate and
// applies it to order subtotals.
package tax

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/drone-tax/internal/jurisdiction"
	"github.com/noah-isme/drone-tax/internal/money"
)

// Applied is a jurisdiction whose rate contributed to a composite.
type Applied struct {
	ID   int64             `json:"id"`
	Name string            `json:"name"`
	Type jurisdiction.Type `json:"type"`
	Rate decimal.Decimal   `json:"-"`
}

// MarshalJSON renders the rate with six fractional digits.
func (a Applied) MarshalJSON() ([]byte, error) {
	type alias Applied
	return json.Marshal(struct {
		alias
		Rate string `json:"rate"`
	}{alias: alias(a), Rate: money.FormatRate(a.Rate)})
}

// Composite is the location and date dependent part of a tax result. It does
// not depend on the subtotal, so it can be shared by every order at the same
// place on the same day.
type Composite struct {
	Rate          decimal.Decimal
	Breakdown     map[jurisdiction.Type]decimal.Decimal
	Jurisdictions []Applied
}

// Compose selects the first state, county and city match and every special
// district match. matches must already be in resolver order.
func Compose(matches []jurisdiction.Match) Composite {
	c := Composite{
		Breakdown:     make(map[jurisdiction.Type]decimal.Decimal, 4),
		Jurisdictions: make([]Applied, 0, len(matches)),
	}
	var state, county, city, special *decimal.Decimal
	for _, m := range matches {
		rate := m.Rate
		switch m.Type {
		case jurisdiction.TypeState:
			if state != nil {
				continue
			}
			state = &rate
		case jurisdiction.TypeCounty:
			if county != nil {
				continue
			}
			county = &rate
		case jurisdiction.TypeCity:
			if city != nil {
				continue
			}
			city = &rate
		case jurisdiction.TypeSpecial:
			sum := money.Sum(special, &rate)
			special = &sum
		default:
			continue
		}
		c.Breakdown[m.Type] = money.Add(c.Breakdown[m.Type], rate)
		c.Jurisdictions = append(c.Jurisdictions, Applied{ID: m.ID, Name: m.Name, Type: m.Type, Rate: rate})
	}
	c.Rate = money.RoundRate(money.Sum(state, county, city, special))
	return c
}

// Result is the full tax outcome for one order.
type Result struct {
	Composite
	Subtotal    decimal.Decimal
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal
}

// Apply computes the tax for subtotal. The product is rounded half to even
// once; the total is not rounded again.
func Apply(c Composite, subtotal decimal.Decimal) Result {
	taxAmount := money.RoundAmount(money.Mul(subtotal, c.Rate))
	return Result{
		Composite:   c,
		Subtotal:    subtotal,
		TaxAmount:   taxAmount,
		TotalAmount: money.Add(subtotal, taxAmount),
	}
}

// Calculate is Compose followed by Apply.
func Calculate(matches []jurisdiction.Match, subtotal decimal.Decimal) Result {
	return Apply(Compose(matches), subtotal)
}

// BreakdownJSON renders the breakdown as {"state":"0.040000",...}.
func (c Composite) BreakdownJSON() ([]byte, error) {
	out := make(map[jurisdiction.Type]string, len(c.Breakdown))
	for k, v := range c.Breakdown {
		out[k] = money.FormatRate(v)
	}
	return json.Marshal(out)
}

// JurisdictionsJSON renders the applied jurisdictions list.
func (c Composite) JurisdictionsJSON() ([]byte, error) {
	if c.Jurisdictions == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Jurisdictions)
}

// MarshalJSON renders every decimal as fixed point text.
func (r Result) MarshalJSON() ([]byte, error) {
	breakdown := make(map[jurisdiction.Type]string, len(r.Breakdown))
	for k, v := range r.Breakdown {
		breakdown[k] = money.FormatRate(v)
	}
	applied := r.Jurisdictions
	if applied == nil {
		applied = []Applied{}
	}
	return json.Marshal(struct {
		Subtotal      string                       `json:"subtotal"`
		CompositeRate string                       `json:"composite_rate"`
		TaxAmount     string                       `json:"tax_amount"`
		TotalAmount   string                       `json:"total_amount"`
		Breakdown     map[jurisdiction.Type]string `json:"breakdown"`
		Jurisdictions []Applied                    `json:"jurisdictions"`
	}{
		Subtotal:      money.FormatAmount(r.Subtotal),
		CompositeRate: money.FormatRate(r.Rate),
		TaxAmount:     money.FormatAmount(r.TaxAmount),
		TotalAmount:   money.FormatAmount(r.TotalAmount),
		Breakdown:     breakdown,
		Jurisdictions: applied,
	})
}
