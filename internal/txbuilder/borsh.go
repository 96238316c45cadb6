package txbuilder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrU128Overflow is returned when a balance does not fit in 128 bits.
var ErrU128Overflow = errors.New("value does not fit in u128")

// encoder writes the borsh binary layout used by NEAR transactions.
// Integers are little-endian, strings and byte vectors carry a u32 length
// prefix, and enums are a u8 variant index followed by the payload.
type encoder struct {
	buf []byte
	err error
}

func (e *encoder) u8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) u32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) u64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *encoder) u128(v *big.Int) {
	if e.err != nil {
		return
	}
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 {
		e.err = fmt.Errorf("%w: negative value %s", ErrU128Overflow, v)
		return
	}

	n, overflow := uint256.FromBig(v)
	if overflow || n.BitLen() > 128 {
		e.err = fmt.Errorf("%w: %s", ErrU128Overflow, v)
		return
	}

	be := n.Bytes32()
	for i := 31; i >= 16; i-- {
		e.buf = append(e.buf, be[i])
	}
}

func (e *encoder) bytes(v []byte) {
	e.u32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

func (e *encoder) fixed(v []byte) {
	e.buf = append(e.buf, v...)
}

func (e *encoder) string(v string) {
	e.bytes([]byte(v))
}

func (e *encoder) strings(v []string) {
	e.u32(uint32(len(v)))
	for _, s := range v {
		e.string(s)
	}
}

func (e *encoder) result() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}
