// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package xcm builds the SCALE-encoded cross-consensus messages the Vault
// contract forwards to the custodial chain's XCM pallet. The builder is
// pure: identical inputs always yield identical destination and message
// bytes. The exact instruction layout is pinned by the golden tests in
// this package; the target runtimes are the integration authority.
package xcm

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrCompactTooLarge = errors.New("value too large for compact encoding")
	ErrU128Overflow    = errors.New("value exceeds 128 bits")
	ErrNegativeAmount  = errors.New("amount must be non-negative")
)

// encoder accumulates SCALE-encoded output. The zero value is ready to use.
type encoder struct {
	buf []byte
}

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) byte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) raw(b []byte) { e.buf = append(e.buf, b...) }

// compact writes a SCALE compact-encoded unsigned integer. Values above
// 2^30-1 use the big-integer mode with a length prefix.
func (e *encoder) compact(v uint64) {
	switch {
	case v < 1<<6:
		e.byte(byte(v) << 2)
	case v < 1<<14:
		e.byte(byte(v<<2) | 0x01)
		e.byte(byte(v >> 6))
	case v < 1<<30:
		e.byte(byte(v<<2) | 0x02)
		e.byte(byte(v >> 6))
		e.byte(byte(v >> 14))
		e.byte(byte(v >> 22))
	default:
		// big-integer mode: header carries byte count - 4
		n := 0
		for tmp := v; tmp > 0; tmp >>= 8 {
			n++
		}
		e.byte(byte(n-4)<<2 | 0x03)
		for i := 0; i < n; i++ {
			e.byte(byte(v >> (8 * i)))
		}
	}
}

// compactBig writes a compact encoding of an arbitrary-width non-negative
// integer. Used for u128 balances in asset instructions.
func (e *encoder) compactBig(v *big.Int) error {
	if v.Sign() < 0 {
		return ErrNegativeAmount
	}
	if v.IsUint64() {
		e.compact(v.Uint64())
		return nil
	}
	u, overflow := uint256.FromBig(v)
	if overflow || u.BitLen() > 128 {
		return ErrU128Overflow
	}
	le := littleEndianTrimmed(v)
	if len(le) > 67 {
		return ErrCompactTooLarge
	}
	e.byte(byte(len(le)-4)<<2 | 0x03)
	e.raw(le)
	return nil
}

// u32 writes a fixed-width little-endian uint32.
func (e *encoder) u32(v uint32) {
	e.byte(byte(v))
	e.byte(byte(v >> 8))
	e.byte(byte(v >> 16))
	e.byte(byte(v >> 24))
}

// u64 writes a fixed-width little-endian uint64.
func (e *encoder) u64(v uint64) {
	for i := 0; i < 8; i++ {
		e.byte(byte(v >> (8 * i)))
	}
}

// vec writes a length-prefixed byte vector.
func (e *encoder) vec(b []byte) {
	e.compact(uint64(len(b)))
	e.raw(b)
}

// littleEndianTrimmed returns the minimal little-endian representation of
// a non-negative integer (at least one byte).
func littleEndianTrimmed(v *big.Int) []byte {
	be := v.Bytes()
	if len(be) == 0 {
		return []byte{0}
	}
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	return le
}
