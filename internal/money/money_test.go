package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "  ", "abc", "1.2.3", "1e"} {
		_, err := Parse(in)
		require.Error(t, err, in)
		require.True(t, errors.Is(err, ErrParse), in)
	}
}

func TestParseKeepsExactText(t *testing.T) {
	d, err := Parse(" 0.1 ")
	require.NoError(t, err)
	sum := d.Add(MustParse("0.2"))
	require.True(t, sum.Equal(MustParse("0.3")))
}

func TestRoundHalfEven(t *testing.T) {
	cases := map[string]string{
		"8.875":  "8.88",
		"8.865":  "8.86",
		"0.125":  "0.12",
		"0.135":  "0.14",
		"2.5":    "2.50",
		"-1.005": "-1.00",
	}
	for in, want := range cases {
		got := FormatAmount(RoundAmount(MustParse(in)))
		require.Equal(t, want, got, in)
	}
}

func TestRoundRateKeepsSixDigits(t *testing.T) {
	require.Equal(t, "0.088750", FormatRate(RoundRate(MustParse("0.08875"))))
	require.Equal(t, "0.000000", FormatRate(Zero))
	require.Equal(t, "0.123456", FormatRate(RoundRate(MustParse("0.1234565"))))
}

func TestSumSkipsNilAndIgnoresOrder(t *testing.T) {
	a := MustParse("0.04")
	b := MustParse("0.045")
	c := MustParse("0.00375")
	forward := Sum(&a, nil, &b, &c)
	backward := Sum(&c, &b, nil, &a)
	require.True(t, forward.Equal(backward))
	require.Equal(t, "0.088750", FormatRate(forward))
	require.True(t, Sum().Equal(decimal.Zero))
	require.True(t, Sum(nil, nil).Equal(decimal.Zero))
}

func TestFractionalDigits(t *testing.T) {
	require.Equal(t, int32(2), FractionalDigits(MustParse("100.00")))
	require.Equal(t, int32(3), FractionalDigits(MustParse("1.005")))
	require.Equal(t, int32(0), FractionalDigits(MustParse("42")))
}
