package near

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NominationExp is the number of decimal places in one NEAR (1 NEAR = 10^24 yoctoNEAR).
const NominationExp = 24

// StorageCostPerByte is the protocol storage price in yoctoNEAR per byte (1e19).
var StorageCostPerByte = new(big.Int).Exp(big.NewInt(10), big.NewInt(19), nil)

// ErrInvalidAmount is returned when a human-readable amount cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseNearAmount converts a human-readable NEAR amount ("1.5", "1,000") into yoctoNEAR.
func ParseNearAmount(amount string) (*big.Int, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(amount), ",", "")
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	if strings.HasPrefix(cleaned, "-") || strings.HasPrefix(cleaned, "+") {
		return nil, fmt.Errorf("%w: %q must be an unsigned decimal", ErrInvalidAmount, amount)
	}

	parts := strings.Split(cleaned, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("%w: %q has more than one decimal point", ErrInvalidAmount, amount)
	}
	if len(parts) == 2 && len(parts[1]) > NominationExp {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, amount, NominationExp)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	return d.Shift(NominationExp).BigInt(), nil
}

// MustParseNearAmount is like ParseNearAmount but panics on error.
func MustParseNearAmount(amount string) *big.Int {
	v, err := ParseNearAmount(amount)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatNearAmount converts yoctoNEAR into a human-readable NEAR amount rounded
// half up to fracDigits, with trailing zeros trimmed and the whole part grouped
// with commas.
func FormatNearAmount(yocto *big.Int, fracDigits int) string {
	if yocto == nil {
		return "0"
	}
	if fracDigits < 0 || fracDigits > NominationExp {
		fracDigits = NominationExp
	}

	d := decimal.NewFromBigInt(yocto, -NominationExp).Round(int32(fracDigits))
	s := d.String()

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if frac == "" {
		return sign + formatWithCommas(whole)
	}
	return sign + formatWithCommas(whole) + "." + frac
}

func formatWithCommas(whole string) string {
	if len(whole) <= 3 {
		return whole
	}

	var b strings.Builder
	head := len(whole) % 3
	if head > 0 {
		b.WriteString(whole[:head])
	}
	for i := head; i < len(whole); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(whole[i : i+3])
	}
	return b.String()
}

// StorageCost returns the yoctoNEAR price of the given number of storage bytes.
func StorageCost(bytes int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(bytes), StorageCostPerByte)
}
