package ethereum

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a decimal amount such as "1.5" into the smallest unit
// of a token with the given number of decimals.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", amount)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders an amount in the smallest unit as a decimal string
// rounded down to places digits.
func FormatUnits(amount *big.Int, decimals, places int32) string {
	if amount == nil {
		amount = new(big.Int)
	}
	return decimal.NewFromBigInt(amount, -decimals).RoundDown(places).StringFixed(places)
}

// ApplyMultiplier scales a gas estimate, rounding up
func ApplyMultiplier(gas uint64, multiplier float64) uint64 {
	if multiplier <= 1 {
		return gas
	}
	return uint64(math.Ceil(float64(gas) * multiplier))
}
