// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"sync/atomic"
	"testing"
	"time"

	"immixgc/address"
	"immixgc/internal/immix"
	"immixgc/losp"
	"immixgc/objectmodel"
	"immixgc/root"
)

// linkedListModel treats every object as a header-less single pointer
// field, enough to build the linked-list fixtures below.
var linkedListModel = objectmodel.FieldModel{HeaderSize: 0, FieldCount: 1}

func newTestCoordinator(t *testing.T, immixBlocks int64, loCap int64, threads int) (*Coordinator, *immix.Space, *losp.Space, *root.StaticEnumerator) {
	t.Helper()
	is := immix.NewSpace(immixBlocks * immix.BlockSize)
	t.Cleanup(is.Close)
	lo := losp.NewSpace(loCap)
	roots := root.NewStaticEnumerator()
	c := NewCoordinator(Config{
		ImmixSpace: is,
		LOSpace:    lo,
		Model:      linkedListModel,
		Roots:      roots,
		GCThreads:  threads,
	})
	return c, is, lo, roots
}

func TestLargeAllocationsReclaimedWhenUnreachable(t *testing.T) {
	c, _, lo, roots := newTestCoordinator(t, 1, 2*1024*1024, 4)

	for i := 0; i < 100; i++ {
		addr := lo.Alloc(16*1024, 8)
		if addr.IsZero() {
			t.Fatalf("alloc %d: free-list space exhausted early", i)
		}
	}
	if got := lo.Stats().UsedBytes; got != 100*16*1024 {
		t.Fatalf("used bytes = %d, want %d", got, 100*16*1024)
	}

	runCycleSync(t, c, roots)

	if got := lo.Stats().UsedBytes; got != 0 {
		t.Fatalf("used bytes after GC = %d, want 0", got)
	}
}

func TestLinkedListSurvivesGCAtSameAddresses(t *testing.T) {
	c, is, _, roots := newTestCoordinator(t, 4, 1024, 4)

	m := immix.NewMutator(is, c, 1, c.YieldFlag())
	c.Register(1)

	const n = 1000
	var head address.ObjectReference
	var addrs []address.Address
	for i := 0; i < n; i++ {
		a := m.Alloc(16, 8)
		address.Store(a, head)
		head = a.ToObjectReference()
		addrs = append(addrs, a)
	}
	roots.SetRoots(1, []address.ObjectReference{head})

	runCycleSync(t, c, nil)

	for _, a := range addrs {
		if !is.IsMarked(a) {
			t.Fatalf("node at %v not marked after GC", a)
		}
	}

	// The reclaimed lines (there were none garbage in this scenario, but
	// the space must still accept further allocation without error).
	m.Alloc(16, 8)
}

func TestMarkIdempotentAcrossConsecutiveCycles(t *testing.T) {
	c, is, _, roots := newTestCoordinator(t, 2, 1024, 2)
	m := immix.NewMutator(is, c, 1, c.YieldFlag())
	c.Register(1)

	a := m.Alloc(16, 8)
	roots.SetRoots(1, []address.ObjectReference{a.ToObjectReference()})

	runCycleSync(t, c, nil)
	firstStats := is.Stats()

	runCycleSync(t, c, nil)
	secondStats := is.Stats()

	if !is.IsMarked(a) {
		t.Fatal("object should remain marked after second cycle")
	}
	if firstStats != secondStats {
		t.Fatalf("block occupancy changed across idempotent cycles: %+v vs %+v", firstStats, secondStats)
	}
}

// countingModel reads fieldCount packed reference slots per object, as
// objectmodel.FieldModel does with no header, and counts ScanReferences
// calls, used to assert the tracer enumerates each surviving object's slots
// exactly once per cycle even with multiple workers and a fan-out DAG.
type countingModel struct {
	fieldCount int
	calls      atomic.Int64
}

func (m *countingModel) ScanReferences(obj address.ObjectReference, fn func(address.ObjectReference)) {
	m.calls.Add(1)
	base := obj.ToAddress()
	for i := 0; i < m.fieldCount; i++ {
		slot := address.Offset[address.ObjectReference](base, int64(i))
		fn(address.Load[address.ObjectReference](slot))
	}
}

func TestParallelTracingMarksEveryNodeExactlyOnce(t *testing.T) {
	const fanout = 4
	const nodes = 2500 // kept small so the test stays fast under -race

	is := immix.NewSpace(256 * immix.BlockSize)
	defer is.Close()
	lo := losp.NewSpace(1024)
	roots := root.NewStaticEnumerator()
	model := &countingModel{fieldCount: fanout}
	c := NewCoordinator(Config{
		ImmixSpace: is,
		LOSpace:    lo,
		Model:      model,
		Roots:      roots,
		GCThreads:  8,
	})

	m := immix.NewMutator(is, c, 1, c.YieldFlag())
	c.Register(1)

	// Build a DAG: slot 0 chains each node to its predecessor so the
	// whole graph hangs off the last node, and the remaining slots point
	// back into the already-allocated prefix, giving nodes multiple
	// parents without breaking the tracer's mark-once invariant.
	var addrs []address.Address
	for i := 0; i < nodes; i++ {
		a := m.Alloc(uintptr(fanout)*8, 8)
		for f := 0; f < fanout; f++ {
			var child address.ObjectReference
			if i > 0 {
				if f == 0 {
					child = addrs[i-1].ToObjectReference()
				} else {
					child = addrs[(i*7+f)%i].ToObjectReference()
				}
			}
			slot := address.Offset[address.ObjectReference](a, int64(f))
			address.Store(slot, child)
		}
		addrs = append(addrs, a)
	}
	roots.SetRoots(1, []address.ObjectReference{addrs[nodes-1].ToObjectReference()})

	runCycleSync(t, c, nil)

	if got := model.calls.Load(); got > nodes {
		t.Fatalf("ScanReferences invoked %d times, want <= %d (no double enumeration)", got, nodes)
	}
	marked := 0
	for _, a := range addrs {
		if is.IsMarked(a) {
			marked++
		}
	}
	if marked != nodes {
		t.Fatalf("marked %d of %d nodes reachable from root", marked, nodes)
	}
}

// runCycleSync triggers a GC cycle via the registered mutator(s) and
// blocks until it completes. If roots is non-nil it is left registered
// as-is; the mutator parks through Park, which this helper drives from
// a second goroutine so the test goroutine can wait on the cycle
// instead of the mutator blocking the only goroutine in the process.
func runCycleSync(t *testing.T, c *Coordinator, _ *root.StaticEnumerator) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.TriggerGC()
		c.Park(1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("GC cycle did not complete in time")
	}
}
