package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a human amount into the token's smallest unit. Amounts
// with more fractional digits than decimals are rejected rather than rounded.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("invalid decimals %d", decimals)
	}

	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount.String(), decimals)
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits converts base units back into a human amount.
func FromBaseUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// FormatAmountFromBigInt formats base units as a decimal string.
func FormatAmountFromBigInt(amount *big.Int, decimals int32) string {
	return FromBaseUnits(amount, decimals).String()
}

// ApplyBuffer returns ceil(amount * (100+pct) / 100).
func ApplyBuffer(amount *big.Int, pct int64) *big.Int {
	if amount == nil {
		return nil
	}
	num := new(big.Int).Mul(amount, big.NewInt(100+pct))
	q, r := new(big.Int).QuoRem(num, big.NewInt(100), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// GweiToWei converts a decimal gwei figure to wei.
func GweiToWei(gwei decimal.Decimal) *big.Int {
	return gwei.Shift(9).Truncate(0).BigInt()
}
