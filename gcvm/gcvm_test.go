// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcvm

import (
	"testing"
	"time"

	"immixgc/internal/immix"
	"immixgc/objectmodel"
)

func newTestRuntime(t *testing.T, immixBlocks, loCap int64) *Runtime {
	t.Helper()
	rt := NewRuntime(Config{
		ImmixSize: immixBlocks * immix.BlockSize,
		LOSize:    loCap,
		GCThreads: 2,
		Model:     objectmodel.FieldModel{HeaderSize: 0, FieldCount: 1},
	})
	t.Cleanup(rt.Close)
	return rt
}

func TestNewMutatorAllocRoundTrip(t *testing.T) {
	rt := newTestRuntime(t, 1, 4096)
	m := rt.NewMutator()
	defer m.Drop()

	ref := m.Alloc(16, 8)
	if ref.IsNull() {
		t.Fatal("expected a non-null reference")
	}
	if !ref.ToAddress().IsAligned(8) {
		t.Fatalf("reference %v not aligned", ref)
	}
}

func TestAllocLargeExceedsImmixRange(t *testing.T) {
	rt := newTestRuntime(t, 1, 1<<20)
	m := rt.NewMutator()
	defer m.Drop()

	ref, err := m.AllocLarge(65536)
	if err != nil {
		t.Fatalf("AllocLarge: %v", err)
	}
	if rt.ImmixSpace().Contains(ref.ToAddress()) {
		t.Fatal("large allocation landed inside the Immix space")
	}
	if got := rt.LOSpace().Stats().UsedBytes; got != 65536 {
		t.Fatalf("used bytes = %d, want 65536", got)
	}
}

func TestSingletonRequiresInit(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling NewMutatorGlobal before Init")
		}
	}()
	singletonMu.Lock()
	singleton = nil
	singletonMu.Unlock()
	NewMutatorGlobal()
}

func TestSingletonEmbeddingAPI(t *testing.T) {
	Init(Config{
		ImmixSize: 2 * immix.BlockSize,
		LOSize:    1 << 16,
		GCThreads: 1,
		Model:     objectmodel.FieldModel{HeaderSize: 0, FieldCount: 1},
	})
	m := NewMutatorGlobal()
	defer DropMutator(m)

	ref := Alloc(m, 32, 8)
	if ref.IsNull() {
		t.Fatal("expected a non-null reference")
	}
	Yieldpoint(m) // no cycle pending: must return immediately
	SetLowWaterMark()
}

func TestRuntimeGCReclaimsLargeGarbage(t *testing.T) {
	rt := newTestRuntime(t, 1, 2<<20)
	m := rt.NewMutator()
	defer m.Drop()

	for i := 0; i < 50; i++ {
		if _, err := m.AllocLarge(16 * 1024); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}
	if got := rt.LOSpace().Stats().UsedBytes; got != 50*16*1024 {
		t.Fatalf("used bytes = %d, want %d", got, 50*16*1024)
	}

	done := make(chan struct{})
	go func() {
		rt.TriggerGC()
		m.YieldpointSlow()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("GC cycle did not complete in time")
	}

	if got := rt.LOSpace().Stats().UsedBytes; got != 0 {
		t.Fatalf("used bytes after GC = %d, want 0 (no roots published)", got)
	}
}
