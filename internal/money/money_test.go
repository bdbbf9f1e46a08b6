package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPercentOfRoundsHalfUp(t *testing.T) {
	cases := []struct {
		amount Money
		pct    string
		want   Money
	}{
		{amount: 10000, pct: "10", want: 1000},
		{amount: 999, pct: "12.5", want: 125}, // 124.875
		{amount: 5, pct: "10", want: 1},       // 0.5
		{amount: 4, pct: "10", want: 0},       // 0.4
		{amount: 25000, pct: "7.5", want: 1875},
		{amount: 12345, pct: "100", want: 12345},
		{amount: 12345, pct: "0", want: 0},
	}
	for _, tc := range cases {
		got, err := PercentOf(tc.amount, decimal.RequireFromString(tc.pct))
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "%d * %s%%", tc.amount, tc.pct)
	}
}

func TestPercentOfRejectsInvalidInput(t *testing.T) {
	_, err := PercentOf(-1, decimal.NewFromInt(10))
	require.ErrorIs(t, err, ErrNegative)

	_, err = PercentOf(100, decimal.NewFromInt(101))
	require.ErrorIs(t, err, ErrInvalidPercent)

	_, err = PercentOf(100, decimal.NewFromInt(-1))
	require.ErrorIs(t, err, ErrInvalidPercent)
}

func TestArithmeticOverflow(t *testing.T) {
	_, err := Add(math.MaxInt64, 1)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = Mul(math.MaxInt64/2, 3)
	require.ErrorIs(t, err, ErrOverflow)

	got, err := Mul(2500, 4)
	require.NoError(t, err)
	require.Equal(t, Money(10000), got)

	total, err := Sum(100, 200, 300)
	require.NoError(t, err)
	require.Equal(t, Money(600), total)
}

func TestCurrencyHelpers(t *testing.T) {
	code, err := NormalizeCurrency(" ngn ")
	require.NoError(t, err)
	require.Equal(t, "NGN", code)

	code, err = NormalizeCurrency("")
	require.NoError(t, err)
	require.Equal(t, DefaultCurrency, code)

	_, err = NormalizeCurrency("XYZW")
	require.ErrorIs(t, err, ErrUnknownCurrency)

	require.Equal(t, 2, Scale("NGN"))
	require.Equal(t, 0, Scale("JPY"))
	require.Equal(t, "1234.56", Major(123456, "NGN").StringFixed(2))
}

func TestFormatGroupsDigits(t *testing.T) {
	require.Contains(t, Format(123456, "NGN"), "1,234.56")
	require.Contains(t, Format(5000, "USD"), "50.00")
}

func TestExactPercent(t *testing.T) {
	for raw, want := range map[string]bool{
		"7.5":    true,
		"7.50":   true,
		"7.500":  true,
		"12.125": false,
		"100":    true,
		"100.01": false,
		"-0.5":   false,
	} {
		require.Equal(t, want, ExactPercent(decimal.RequireFromString(raw)), raw)
	}
}
