package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	d, err := Parse("$1,234.56")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("1234.56")))
	assert.Equal(t, "$1,234.56", Format(d))
}

func TestParseVariants(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12.00", "12"},
		{"$ 0.99", "0.99"},
		{"1,000,000.10", "1000000.1"},
		{"USD 45.5", "45.5"},
		{"(12.00)", "-12"},
		{"5.00-", "-5"},
		{"-$3.10", "-3.1"},
		{"€7", "7"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := Parse(tt.in)
			require.NoError(t, err)
			assert.True(t, d.Equal(decimal.RequireFromString(tt.want)), "got %s", d)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1,23.00", "12.345", "(12.00"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "$0.00", Format(decimal.Zero))
	assert.Equal(t, "$999.90", Format(decimal.RequireFromString("999.9")))
	assert.Equal(t, "-$1,000.00", Format(decimal.RequireFromString("-1000")))
	assert.Equal(t, "$12,345,678.01", Format(decimal.RequireFromString("12345678.01")))
}

func TestEqualWithinTolerance(t *testing.T) {
	tol := decimal.RequireFromString("0.01")
	assert.True(t, Equal(decimal.RequireFromString("150.00"), decimal.RequireFromString("150.01"), tol))
	assert.False(t, Equal(decimal.RequireFromString("161.00"), decimal.RequireFromString("162.00"), tol))
	assert.True(t, Sum(decimal.RequireFromString("0.10"), decimal.RequireFromString("0.20")).Equal(decimal.RequireFromString("0.30")))
}
