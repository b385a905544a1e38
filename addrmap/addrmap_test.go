// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package addrmap

import (
	"sync"
	"testing"

	"immixgc/address"
)

func TestBitmapSetTestClear(t *testing.T) {
	base := address.Address(0x1000)
	b := NewBitmap(base, 4096, 16)

	a := base.Add(16 * 5)
	if b.Test(a) {
		t.Fatal("bit should start clear")
	}
	b.Set(a)
	if !b.Test(a) {
		t.Fatal("bit should be set")
	}
	b.Clear(a)
	if b.Test(a) {
		t.Fatal("bit should be clear after Clear")
	}
}

func TestBitmapOutOfCoverage(t *testing.T) {
	b := NewBitmap(address.Address(0x1000), 4096, 16)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-coverage address")
		}
	}()
	b.Test(address.Address(0))
}

func TestBitmapTestAndSet(t *testing.T) {
	base := address.Address(0)
	b := NewBitmap(base, 1024, 8)
	a := base.Add(8 * 3)

	if wasSet := b.TestAndSet(a); wasSet {
		t.Fatal("first TestAndSet should report unset")
	}
	if wasSet := b.TestAndSet(a); !wasSet {
		t.Fatal("second TestAndSet should report already set")
	}
}

func TestBitmapTestAndSetConcurrent(t *testing.T) {
	base := address.Address(0)
	b := NewBitmap(base, 1024, 8)
	a := base.Add(8 * 3)

	const workers = 32
	var wg sync.WaitGroup
	flips := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			flips[i] = !b.TestAndSet(a)
		}(i)
	}
	wg.Wait()

	count := 0
	for _, flipped := range flips {
		if flipped {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}

func TestBitmapForEachSet(t *testing.T) {
	base := address.Address(0)
	b := NewBitmap(base, 1024, 8)
	want := []address.Address{base.Add(0), base.Add(8 * 10), base.Add(8 * 100)}
	for _, a := range want {
		b.Set(a)
	}
	var got []address.Address
	b.ForEachSet(func(a address.Address) bool {
		got = append(got, a)
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("got %d addresses, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBitmapCloneIsIndependent(t *testing.T) {
	base := address.Address(0)
	b := NewBitmap(base, 256, 8)
	b.Set(base.Add(8))
	cp := b.Clone()

	b.Set(base.Add(16))
	if cp.Test(base.Add(16)) {
		t.Fatal("mutating the original leaked into the clone")
	}
	if !cp.Test(base.Add(8)) {
		t.Fatal("clone lost a bit set before cloning")
	}
}

func TestBitmapReset(t *testing.T) {
	base := address.Address(0)
	b := NewBitmap(base, 256, 8)
	b.Set(base.Add(8))
	b.Reset()
	if b.Test(base.Add(8)) {
		t.Fatal("bit should be clear after Reset")
	}
}

func TestByteMapGetSet(t *testing.T) {
	base := address.Address(0x2000)
	m := NewByteMap(base, 256*8, 256)
	a := base.Add(256 * 2)
	if got := m.Get(a); got != 0 {
		t.Fatalf("Get = %d, want 0", got)
	}
	m.Set(a, 7)
	if got := m.Get(a); got != 7 {
		t.Fatalf("Get = %d, want 7", got)
	}
}

func TestByteMapIndexAccess(t *testing.T) {
	base := address.Address(0)
	m := NewByteMap(base, 256*4, 256)
	m.SetIndex(2, 9)
	if got := m.GetIndex(2); got != 9 {
		t.Fatalf("GetIndex = %d, want 9", got)
	}
	if got := m.AddrOfIndex(2); got != base.Add(512) {
		t.Fatalf("AddrOfIndex = %v, want %v", got, base.Add(512))
	}
}
