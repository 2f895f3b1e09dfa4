// Package money holds the exact decimal rules shared by rate resolution, tax
// composition and import validation. Every quantity is parsed from text and
// rounded half-to-even exactly once.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// RatePlaces is the number of fractional digits kept for tax rates.
	RatePlaces int32 = 6
	// AmountPlaces is the number of fractional digits kept for money amounts.
	AmountPlaces int32 = 2
)

// ErrParse is returned when numeric text cannot be read as an exact decimal.
var ErrParse = errors.New("money: malformed decimal")

// Zero is the additive identity.
var Zero = decimal.Zero

// Parse reads s as an exact decimal. Leading and trailing whitespace is ignored.
func Parse(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty value", ErrParse)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrParse, s)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Round applies round-half-even to the given number of fractional digits.
func Round(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundBank(places)
}

// RoundRate rounds a rate to RatePlaces.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return Round(d, RatePlaces)
}

// RoundAmount rounds a money amount to AmountPlaces.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return Round(d, AmountPlaces)
}

// Add returns a + b without rounding.
func Add(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b)
}

// Mul returns a * b without rounding.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b)
}

// Sum adds the non-nil inputs. Decimal addition is exact, so the result does
// not depend on argument order.
func Sum(values ...*decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		if v == nil {
			continue
		}
		total = total.Add(*v)
	}
	return total
}

// FormatRate renders a rate with exactly RatePlaces fractional digits.
func FormatRate(d decimal.Decimal) string {
	return d.StringFixedBank(RatePlaces)
}

// FormatAmount renders an amount with exactly AmountPlaces fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixedBank(AmountPlaces)
}

// FractionalDigits reports how many digits follow the decimal point in d's
// textual form as parsed.
func FractionalDigits(d decimal.Decimal) int32 {
	if exp := d.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}
