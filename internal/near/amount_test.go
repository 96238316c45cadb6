package near

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yocto(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer " + s)
	}
	return v
}

func TestParseNearAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000000000"},
		{"0.5", "500000000000000000000000"},
		{"100", "100000000000000000000000000"},
		{"1,000", "1000000000000000000000000000"},
		{" 2.25 ", "2250000000000000000000000"},
		{"0.000000000000000000000001", "1"},
		{"0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNearAmount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseNearAmount_Errors(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"-1",
		"+1",
		"1.2.3",
		"abc",
		"0.0000000000000000000000001",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseNearAmount(in)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestMustParseNearAmount_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParseNearAmount("nope") })
	assert.NotPanics(t, func() { MustParseNearAmount("0.1") })
}

func TestFormatNearAmount(t *testing.T) {
	tests := []struct {
		name   string
		yocto  string
		digits int
		want   string
	}{
		{"one near", "1000000000000000000000000", 5, "1"},
		{"half", "500000000000000000000000", 5, "0.5"},
		{"rounds down", "1234540000000000000000000", 5, "1.23454"},
		{"rounds half up", "1234565000000000000000000", 5, "1.23457"},
		{"below precision", "1000000000000000000", 5, "0"},
		{"grouped", "1234567000000000000000000000000", 0, "1,234,567"},
		{"grouped fraction", "1000500000000000000000000000", 2, "1,000.5"},
		{"full precision", "1", NominationExp, "0.000000000000000000000001"},
		{"negative", "-1500000000000000000000000", 2, "-1.5"},
		{"invalid digits use full precision", "1", -1, "0.000000000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatNearAmount(yocto(tt.yocto), tt.digits))
		})
	}

	assert.Equal(t, "0", FormatNearAmount(nil, 5))
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, s := range []string{"0.5", "1", "100", "1,000.25", "0.000000000000000000000001"} {
		v, err := ParseNearAmount(s)
		require.NoError(t, err)
		assert.Equal(t, s, FormatNearAmount(v, NominationExp))
	}
}

func TestStorageCost(t *testing.T) {
	assert.Equal(t, "0", StorageCost(0).String())
	assert.Equal(t, "10000000000000000000", StorageCost(1).String())
	// 100 bytes cost 0.001 NEAR
	assert.Equal(t, MustParseNearAmount("0.001").String(), StorageCost(100).String())
	assert.Equal(t, "-10000000000000000000", StorageCost(-1).String())
}
