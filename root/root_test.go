// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package root

import (
	"testing"

	"immixgc/address"
)

func TestStaticEnumeratorSetAndGet(t *testing.T) {
	e := NewStaticEnumerator()
	e.SetRoots(1, []address.ObjectReference{0x100, 0x200})

	got := e.Roots(1)
	if len(got) != 2 || got[0] != 0x100 || got[1] != 0x200 {
		t.Fatalf("Roots(1) = %v, want [0x100 0x200]", got)
	}
}

func TestStaticEnumeratorUnknownThread(t *testing.T) {
	e := NewStaticEnumerator()
	if got := e.Roots(99); got != nil {
		t.Fatalf("Roots(99) = %v, want nil", got)
	}
}

func TestStaticEnumeratorAddRoot(t *testing.T) {
	e := NewStaticEnumerator()
	e.AddRoot(5, 0xaa)
	e.AddRoot(5, 0xbb)
	got := e.Roots(5)
	if len(got) != 2 || got[0] != 0xaa || got[1] != 0xbb {
		t.Fatalf("Roots(5) = %v, want [0xaa 0xbb]", got)
	}
}

func TestStaticEnumeratorReturnsCopyNotAlias(t *testing.T) {
	e := NewStaticEnumerator()
	e.SetRoots(1, []address.ObjectReference{0x1})
	got := e.Roots(1)
	got[0] = 0xdead
	if e.Roots(1)[0] == 0xdead {
		t.Fatal("Roots should return a defensive copy")
	}
}
