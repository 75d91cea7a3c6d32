package verify

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAtomic parses a non-negative base-10 integer amount.
func ParseAtomic(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	return n, nil
}

// MeetsMinimum reports whether amount >= min. Equality passes.
func MeetsMinimum(amount, minimum *big.Int) bool {
	return amount.Cmp(minimum) >= 0
}

// DecimalToAtomic converts a fixed-point decimal string (for example a BTC
// value "0.00000001") to integer atomic units with the given number of
// fractional digits. The value is normalised to exactly `places` fractional
// digits as a string and the digits are then read as one integer, so no
// float rounding is involved. Values with non-zero digits beyond `places`
// are rejected.
func DecimalToAtomic(s string, places int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	if !d.Truncate(places).Equal(d) {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", s, places)
	}

	whole, frac, _ := strings.Cut(d.StringFixed(places), ".")
	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q did not normalise to an integer", s)
	}
	return n, nil
}
