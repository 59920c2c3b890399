// Package helpers provides small utilities shared by the swap packages.
package helpers

import (
	"fmt"
	"math/big"
	"strings"
)

// SatoshiDecimals is the number of decimal places of one bitcoin.
const SatoshiDecimals = 8

// FormatAmount formats an amount in smallest units as a decimal string.
// For example, FormatAmount(100000000, 8) returns "1".
func FormatAmount(amount uint64, decimals uint8) string {
	if decimals == 0 {
		return fmt.Sprintf("%d", amount)
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(new(big.Int).SetUint64(amount), divisor, new(big.Int))

	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := strings.TrimRight(fmt.Sprintf("%0*d", int(decimals), frac), "0")
	return whole.String() + "." + fracStr
}

// FormatAmountFixed formats an amount with exactly decimals fractional digits,
// the way block explorers print output values ("0.00010000").
func FormatAmountFixed(amount uint64, decimals uint8) string {
	if decimals == 0 {
		return fmt.Sprintf("%d", amount)
	}
	div := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		div *= 10
	}
	return fmt.Sprintf("%d.%0*d", amount/div, int(decimals), amount%div)
}

// ParseAmount parses a decimal string to smallest units.
// More fractional digits than decimals is an error rather than a silent truncation.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount string")
	}

	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}
	for _, part := range []string{wholeStr, fracStr} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("invalid character in amount: %c", c)
			}
		}
	}
	if len(fracStr) > int(decimals) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", s, decimals)
	}
	fracStr += strings.Repeat("0", int(decimals)-len(fracStr))

	amount, ok := new(big.Int).SetString(wholeStr+fracStr, 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount: %s", s)
	}
	if !amount.IsUint64() {
		return 0, fmt.Errorf("amount overflow: %s", s)
	}
	return amount.Uint64(), nil
}

// SatoshisToBTC converts satoshis to a BTC string with 8 fixed decimals.
func SatoshisToBTC(satoshis uint64) string {
	return FormatAmountFixed(satoshis, SatoshiDecimals)
}

// BTCToSatoshis converts a BTC string to satoshis.
func BTCToSatoshis(btc string) (uint64, error) {
	return ParseAmount(btc, SatoshiDecimals)
}
