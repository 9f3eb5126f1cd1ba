package yield

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFloat(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		decimals uint8
		want     float64
	}{
		{name: "one", value: "1000000000000000000", decimals: 18, want: 1.0},
		{name: "fraction", value: "100010000000000000000", decimals: 18, want: 100.01},
		{name: "cbeth rate", value: "1095338541312457530", decimals: 18, want: 1.09533854131245753},
		{name: "zero", value: "0", decimals: 18, want: 0},
		{name: "no decimals", value: "42", decimals: 0, want: 42},
		{name: "six decimals", value: "2500000", decimals: 6, want: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := new(big.Int).SetString(tt.value, 10)
			require.True(t, ok)

			got, err := ToFloat(v, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToFloat_Errors(t *testing.T) {
	_, err := ToFloat(nil, 18)
	assert.ErrorIs(t, err, ErrConversion)

	_, err = ToFloat(big.NewInt(-1), 18)
	assert.ErrorIs(t, err, ErrConversion)

	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = ToFloat(tooWide, 18)
	assert.ErrorIs(t, err, ErrConversion)

	_, err = ToFloat(big.NewInt(1), 78)
	assert.ErrorIs(t, err, ErrConversion)
}

func TestFromDecimal(t *testing.T) {
	got, err := FromDecimal(decimal.RequireFromString("100.01"), 18)
	require.NoError(t, err)
	assert.Equal(t, "100010000000000000000", got.String())

	_, err = FromDecimal(decimal.RequireFromString("-1"), 18)
	assert.ErrorIs(t, err, ErrConversion)

	_, err = FromDecimal(decimal.RequireFromString("0.0000001"), 6)
	assert.ErrorIs(t, err, ErrConversion)
}
