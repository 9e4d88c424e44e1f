// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package rangemask decomposes closed integer intervals into value/mask
// pairs for use in ternary match fields (L4 ports, VLAN ids).
package rangemask

import (
	"fmt"
	"math"
	"math/bits"
)

// Mask is a value with a wildcard mask. A zero bit in Mask wildcards the
// corresponding bit of Value.
type Mask struct {
	Value uint16
	Mask  uint16
}

func (m Mask) String() string {
	return fmt.Sprintf("{value: 0x%x, mask: 0x%x}", m.Value, m.Mask)
}

// Matches reports whether v is covered by the mask.
func (m Mask) Matches(v uint16) bool {
	return v&m.Mask == m.Value&m.Mask
}

// Size returns the number of values the mask covers.
func (m Mask) Size() int {
	return 1 << bits.OnesCount16(^m.Mask)
}

// MaskList is an ordered sequence of masks covering exactly a target
// integer set.
type MaskList []Mask

// Matches reports whether v is covered by any mask in the list.
func (l MaskList) Matches(v uint16) bool {
	for _, m := range l {
		if m.Matches(v) {
			return true
		}
	}
	return false
}

// GetMasks returns the minimal ordered MaskList covering exactly the closed
// interval [start, end]. Every returned mask is an aligned power-of-two
// block; blocks are emitted in ascending order. The full 16-bit range
// yields an empty list, which callers interpret as "no restriction". An
// inverted interval (end < start) also yields an empty list.
func GetMasks(start, end uint16) MaskList {
	if start == 0 && end == math.MaxUint16 {
		return nil
	}
	if end < start {
		return nil
	}

	var masks MaskList
	lo := uint32(start)
	hi := uint32(end)
	for lo <= hi {
		// Largest block aligned at lo; the 0x10000 guard caps the
		// block size when lo is 0.
		size := uint32(1) << bits.TrailingZeros32(lo|0x10000)
		for lo+size-1 > hi {
			size >>= 1
		}
		masks = append(masks, Mask{
			Value: uint16(lo),
			Mask:  uint16(^(size - 1)),
		})
		lo += size
	}
	return masks
}
