package yield

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// maxDecimals matches the widest decimal representation of a uint256.
const maxDecimals = 77

// ToFloat converts a fixed-point integer with the given number of decimal
// units into a float64. The value must fit in an unsigned 256-bit word.
func ToFloat(value *big.Int, decimals uint8) (float64, error) {
	if value == nil {
		return 0, fmt.Errorf("%w: nil value", ErrConversion)
	}
	if value.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative value %s", ErrConversion, value.String())
	}
	if value.BitLen() > 256 {
		return 0, fmt.Errorf("%w: value exceeds 256 bits", ErrConversion)
	}
	if decimals > maxDecimals {
		return 0, fmt.Errorf("%w: %d decimal units out of range", ErrConversion, decimals)
	}

	f, _ := decimal.NewFromBigInt(value, -int32(decimals)).Float64()
	return f, nil
}

// FromDecimal scales a human readable decimal into its fixed-point integer form.
func FromDecimal(d decimal.Decimal, decimals uint8) (*big.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative value %s", ErrConversion, d.String())
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", ErrConversion, d.String(), decimals)
	}
	return scaled.BigInt(), nil
}
