package tax

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/jurisdiction"
	"github.com/noah-isme/drone-tax/internal/money"
)

func match(id int64, name string, typ jurisdiction.Type, rate string) jurisdiction.Match {
	return jurisdiction.Match{
		Jurisdiction: jurisdiction.Jurisdiction{ID: id, Name: name, Type: typ},
		Rate:         money.MustParse(rate),
	}
}

func manhattan() []jurisdiction.Match {
	return []jurisdiction.Match{
		match(1, "New York State", jurisdiction.TypeState, "0.04"),
		match(2, "New York County", jurisdiction.TypeCounty, "0.045"),
		match(3, "MCTD", jurisdiction.TypeSpecial, "0.00375"),
	}
}

func TestManhattanScenario(t *testing.T) {
	res := Calculate(manhattan(), money.MustParse("100.00"))
	require.Equal(t, "0.088750", money.FormatRate(res.Rate))
	require.Equal(t, "8.88", money.FormatAmount(res.TaxAmount))
	require.Equal(t, "108.88", money.FormatAmount(res.TotalAmount))
	require.Len(t, res.Jurisdictions, 3)
	require.Equal(t, "0.00375", res.Breakdown[jurisdiction.TypeSpecial].String())
}

func TestOutsideEveryJurisdiction(t *testing.T) {
	res := Calculate(nil, money.MustParse("42.10"))
	require.Equal(t, "0.000000", money.FormatRate(res.Rate))
	require.Equal(t, "0.00", money.FormatAmount(res.TaxAmount))
	require.True(t, res.TotalAmount.Equal(res.Subtotal))

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	require.JSONEq(t, `{"subtotal":"42.10","composite_rate":"0.000000","tax_amount":"0.00",
		"total_amount":"42.10","breakdown":{},"jurisdictions":[]}`, string(raw))
}

func TestFirstMatchWinsForNonSpecialTypes(t *testing.T) {
	res := Calculate([]jurisdiction.Match{
		match(1, "A State", jurisdiction.TypeState, "0.04"),
		match(2, "B State", jurisdiction.TypeState, "0.07"),
		match(3, "A City", jurisdiction.TypeCity, "0.01"),
		match(4, "B City", jurisdiction.TypeCity, "0.02"),
	}, money.MustParse("10.00"))
	require.Equal(t, "0.050000", money.FormatRate(res.Rate))
	require.Len(t, res.Jurisdictions, 2)
	require.Equal(t, "A State", res.Jurisdictions[0].Name)
	require.Equal(t, "A City", res.Jurisdictions[1].Name)
}

func TestSpecialDistrictsAreSummedInAnyOrder(t *testing.T) {
	specials := []jurisdiction.Match{
		match(10, "D1", jurisdiction.TypeSpecial, "0.00375"),
		match(11, "D2", jurisdiction.TypeSpecial, "0.001"),
		match(12, "D3", jurisdiction.TypeSpecial, "0.0025"),
	}
	forward := Compose(specials)
	reversed := Compose([]jurisdiction.Match{specials[2], specials[0], specials[1]})
	require.True(t, forward.Rate.Equal(reversed.Rate))
	require.Equal(t, "0.007250", money.FormatRate(forward.Rate))
	require.True(t, forward.Breakdown[jurisdiction.TypeSpecial].Equal(forward.Rate))
	require.Len(t, forward.Jurisdictions, 3)
}

func TestTotalMinusSubtotalIsTax(t *testing.T) {
	subtotals := []string{"0.01", "1.00", "19.99", "100.00", "12345.67", "0.05"}
	for _, s := range subtotals {
		sub := money.MustParse(s)
		res := Calculate(manhattan(), sub)
		require.True(t, res.TotalAmount.Sub(res.Subtotal).Equal(res.TaxAmount), s)
		require.LessOrEqual(t, money.FractionalDigits(res.TaxAmount), int32(2), s)
	}
}

func TestRoundingHappensOnceOnTheComposite(t *testing.T) {
	// rounding each component first would give 0.04+0.04+0.00 = 0.08
	res := Calculate(manhattan(), money.MustParse("1.00"))
	require.Equal(t, "0.09", money.FormatAmount(res.TaxAmount))

	// 0.05 * 0.08875 = 0.0044375 -> 0.00
	res = Calculate(manhattan(), money.MustParse("0.05"))
	require.Equal(t, "0.00", money.FormatAmount(res.TaxAmount))
}

func TestCompositeJSONForms(t *testing.T) {
	c := Compose(manhattan())
	b, err := c.BreakdownJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"state":"0.040000","county":"0.045000","special":"0.003750"}`, string(b))

	j, err := c.JurisdictionsJSON()
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":1,"name":"New York State","type":"state","rate":"0.040000"},
		{"id":2,"name":"New York County","type":"county","rate":"0.045000"},
		{"id":3,"name":"MCTD","type":"special","rate":"0.003750"}]`, string(j))
}

type fixedResolver []jurisdiction.Match

func (f fixedResolver) ResolveOne(context.Context, geo.Point, time.Time) ([]jurisdiction.Match, error) {
	return f, nil
}

func TestServiceQuote(t *testing.T) {
	svc := &Service{Resolver: fixedResolver(manhattan())}
	res, err := svc.Quote(context.Background(), Query{
		Point:    geo.Point{Lat: 40.7484, Lon: -73.9857},
		Subtotal: money.MustParse("100.00"),
		AsOf:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, "108.88", money.FormatAmount(res.TotalAmount))

	_, err = (&Service{}).Quote(context.Background(), Query{})
	require.Error(t, err)
}
