package mathutil

import (
	"errors"
	"fmt"
	"math"
)

var ErrOverflow = errors.New("value exceeds target type capacity")

func Uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value %d overflows int64: %w", v, ErrOverflow)
	}
	return int64(v), nil
}

// Delta returns after - before as a signed value.
func Delta(before, after uint64) (int64, error) {
	if after >= before {
		d, err := Uint64ToInt64(after - before)
		if err != nil {
			return 0, fmt.Errorf("delta %d -> %d: %w", before, after, err)
		}
		return d, nil
	}
	d, err := Uint64ToInt64(before - after)
	if err != nil {
		return 0, fmt.Errorf("delta %d -> %d: %w", before, after, err)
	}
	return -d, nil
}

// GasToTera converts raw gas units to Tgas for display.
func GasToTera(gas uint64) float64 {
	return float64(gas) / 1e12
}
