// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addrmap implements fixed-extent, address-keyed bit and byte
// arrays used for mark bits and per-line metadata.
//
// Both collections are dense: they cover [base, base+length) at a fixed
// granularity and answer set/clear/test queries in O(1) by converting an
// address to an index. A single contiguous extent suffices — the Immix
// space and the mark bitmap both cover one reserved region, so there is
// no need for a sparse arena index.
package addrmap

import (
	"fmt"
	"sync/atomic"

	"immixgc/address"
)

// ErrOutOfCoverage is the panic value when an address falls outside the
// range the map was constructed to cover. This is a programmer error: any
// caller on a correctly-functioning allocation or tracing path should
// never present an out-of-range address.
var ErrOutOfCoverage = fmt.Errorf("addrmap: address out of coverage")

// Bitmap is a dense bit array covering [base, base+length) at the given
// granularity: bit index = (addr - base) / granularity.
type Bitmap struct {
	base        address.Address
	length      int64
	granularity int64
	bits        []uint64
}

// NewBitmap allocates a Bitmap covering length bytes starting at base,
// with one bit per granularity bytes.
func NewBitmap(base address.Address, length, granularity int64) *Bitmap {
	if granularity <= 0 {
		panic("addrmap: granularity must be positive")
	}
	n := (length + granularity - 1) / granularity
	return &Bitmap{
		base:        base,
		length:      length,
		granularity: granularity,
		bits:        make([]uint64, (n+63)/64),
	}
}

func (b *Bitmap) index(a address.Address) (int64, error) {
	if a < b.base || a >= b.base.Add(b.length) {
		return 0, ErrOutOfCoverage
	}
	return int64(a.Diff(b.base)) / b.granularity, nil
}

// Set marks the bit for addr. It panics with ErrOutOfCoverage if addr is
// not covered.
func (b *Bitmap) Set(addr address.Address) {
	i, err := b.index(addr)
	if err != nil {
		panic(err)
	}
	b.bits[i/64] |= 1 << uint(i%64)
}

// Clear unmarks the bit for addr.
func (b *Bitmap) Clear(addr address.Address) {
	i, err := b.index(addr)
	if err != nil {
		panic(err)
	}
	b.bits[i/64] &^= 1 << uint(i%64)
}

// Test reports whether the bit for addr is set.
func (b *Bitmap) Test(addr address.Address) bool {
	i, err := b.index(addr)
	if err != nil {
		panic(err)
	}
	return b.bits[i/64]&(1<<uint(i%64)) != 0
}

// TestAndSet sets the bit for addr and reports whether it was already
// set. This is the mark-bit transition primitive: concurrent marker
// workers call this on the same Bitmap, and exactly one caller per
// address observes wasSet == false — that caller, and only that caller,
// must enumerate the object's reference slots. The flip is performed
// with an atomic compare-and-swap loop so the "did I flip it?" answer is
// race-free under concurrent workers.
func (b *Bitmap) TestAndSet(addr address.Address) (wasSet bool) {
	i, err := b.index(addr)
	if err != nil {
		panic(err)
	}
	mask := uint64(1) << uint(i%64)
	word := &b.bits[i/64]
	for {
		old := atomic.LoadUint64(word)
		if old&mask != 0 {
			return true
		}
		if atomic.CompareAndSwapUint64(word, old, old|mask) {
			return false
		}
	}
}

// ForEachSetInRange calls fn for every address whose bit is set within
// [lo, hi), in ascending address order. Both lo and hi must fall within
// the map's coverage (hi may equal base+length). If fn returns false
// iteration stops early.
func (b *Bitmap) ForEachSetInRange(lo, hi address.Address, fn func(address.Address) bool) {
	loIdx, err := b.index(lo)
	if err != nil {
		panic(err)
	}
	var hiIdx int64
	if hi == b.base.Add(b.length) {
		hiIdx = int64(len(b.bits)) * 64
	} else {
		hiIdx, err = b.index(hi)
		if err != nil {
			panic(err)
		}
	}
	for i := loIdx; i < hiIdx; i++ {
		if b.bits[i/64]&(1<<uint(i%64)) == 0 {
			continue
		}
		if !fn(b.base.Add(i * b.granularity)) {
			return
		}
	}
}

// Clone returns a deep copy, useful for snapshotting mark state
// between collection cycles.
func (b *Bitmap) Clone() *Bitmap {
	cp := &Bitmap{base: b.base, length: b.length, granularity: b.granularity, bits: make([]uint64, len(b.bits))}
	copy(cp.bits, b.bits)
	return cp
}

// Clear all bits, leaving the coverage extent unchanged. Used at the
// start of each marking phase.
func (b *Bitmap) Reset() {
	for i := range b.bits {
		b.bits[i] = 0
	}
}

// ForEachSet calls fn for every address whose bit is set, in ascending
// address order. If fn returns false iteration stops early.
func (b *Bitmap) ForEachSet(fn func(address.Address) bool) {
	n := int64(len(b.bits)) * 64
	for i := int64(0); i < n; i++ {
		if b.bits[i/64]&(1<<uint(i%64)) == 0 {
			continue
		}
		if !fn(b.base.Add(i * b.granularity)) {
			return
		}
	}
}

// ByteMap is the byte-grained analog of Bitmap, used for per-line state
// bytes where each covered unit needs more than a single bit (e.g. Free /
// Marked / ConservativelyMarked).
type ByteMap struct {
	base        address.Address
	length      int64
	granularity int64
	bytes       []byte
}

// NewByteMap allocates a ByteMap covering length bytes starting at base,
// with one byte of metadata per granularity bytes of coverage.
func NewByteMap(base address.Address, length, granularity int64) *ByteMap {
	if granularity <= 0 {
		panic("addrmap: granularity must be positive")
	}
	n := (length + granularity - 1) / granularity
	return &ByteMap{
		base:        base,
		length:      length,
		granularity: granularity,
		bytes:       make([]byte, n),
	}
}

func (m *ByteMap) index(a address.Address) (int64, error) {
	if a < m.base || a >= m.base.Add(m.length) {
		return 0, ErrOutOfCoverage
	}
	return int64(a.Diff(m.base)) / m.granularity, nil
}

// Get returns the metadata byte for addr.
func (m *ByteMap) Get(addr address.Address) byte {
	i, err := m.index(addr)
	if err != nil {
		panic(err)
	}
	return m.bytes[i]
}

// Set stores v as the metadata byte for addr.
func (m *ByteMap) Set(addr address.Address, v byte) {
	i, err := m.index(addr)
	if err != nil {
		panic(err)
	}
	m.bytes[i] = v
}

// Len returns the number of granularity-sized units covered.
func (m *ByteMap) Len() int64 {
	return int64(len(m.bytes))
}

// GetIndex and SetIndex access the map directly by unit index rather
// than address, used by the sweep loop which already iterates by line
// index within a block.
func (m *ByteMap) GetIndex(i int64) byte {
	return m.bytes[i]
}

func (m *ByteMap) SetIndex(i int64, v byte) {
	m.bytes[i] = v
}

// AddrOfIndex returns the address of unit i's first byte.
func (m *ByteMap) AddrOfIndex(i int64) address.Address {
	return m.base.Add(i * m.granularity)
}
