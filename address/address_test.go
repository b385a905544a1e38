// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package address

import (
	"testing"
	"unsafe"
)

func TestAlignUp(t *testing.T) {
	cases := []struct {
		addr  Address
		align uintptr
		want  Address
	}{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{4095, 4096, 4096},
	}
	for _, c := range cases {
		if got := c.addr.AlignUp(c.align); got != c.want {
			t.Errorf("Address(%d).AlignUp(%d) = %d, want %d", c.addr, c.align, got, c.want)
		}
	}
}

func TestIsAligned(t *testing.T) {
	if !Address(16).IsAligned(8) {
		t.Error("16 should be 8-aligned")
	}
	if Address(17).IsAligned(8) {
		t.Error("17 should not be 8-aligned")
	}
}

func TestDiff(t *testing.T) {
	a := Address(100)
	b := Address(40)
	if got := a.Diff(b); got != 60 {
		t.Errorf("Diff = %d, want 60", got)
	}
}

func TestDiffPanicsOnNegative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic when a < other")
		}
	}()
	Address(10).Diff(Address(20))
}

func TestAddSub(t *testing.T) {
	a := Address(100)
	if got := a.Add(16); got != 116 {
		t.Errorf("Add = %d, want 116", got)
	}
	if got := a.Sub(16); got != 84 {
		t.Errorf("Sub = %d, want 84", got)
	}
}

func TestLoadStore(t *testing.T) {
	buf := make([]byte, 8)
	base := FromPointer(unsafe.Pointer(&buf[0]))
	Store[int64](base, 42)
	if got := Load[int64](base); got != 42 {
		t.Errorf("Load = %d, want 42", got)
	}
}

func TestMemset(t *testing.T) {
	buf := make([]byte, 16)
	base := FromPointer(unsafe.Pointer(&buf[0]))
	base.Memset(0xAB, 16)
	for i, b := range buf {
		if b != 0xAB {
			t.Errorf("buf[%d] = %#x, want 0xab", i, b)
		}
	}
}

func TestObjectReferenceIsNull(t *testing.T) {
	if !Nil.IsNull() {
		t.Error("Nil should be null")
	}
	ref := Address(0x1000).ToObjectReference()
	if ref.IsNull() {
		t.Error("non-zero reference should not be null")
	}
}

func TestOffset(t *testing.T) {
	a := Address(1000)
	if got := Offset[int64](a, 2); got != 1016 {
		t.Errorf("Offset[int64](a, 2) = %d, want 1016", got)
	}
	if got := Offset[int64](a, -1); got != 992 {
		t.Errorf("Offset[int64](a, -1) = %d, want 992", got)
	}
}

func TestObjectReferenceRoundTrip(t *testing.T) {
	a := Address(0x7f00)
	ref := a.ToObjectReference()
	if got := ref.ToAddress(); got != a {
		t.Errorf("round trip = %v, want %v", got, a)
	}
}
