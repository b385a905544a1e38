// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package immix

import (
	"sync/atomic"
	"testing"
)

// reclaimingCoordinator simulates a real GC cycle: on TriggerGC it sweeps
// the space (as if a mark phase had just run and found nothing live),
// freeing every block so the next GetNextUsableBlock call succeeds.
type reclaimingCoordinator struct {
	space    *Space
	gcCount  atomic.Int32
	parkCount atomic.Int32
}

func (c *reclaimingCoordinator) TriggerGC() {
	c.gcCount.Add(1)
	c.space.PrepareForGC()
	c.space.Sweep()
}

func (c *reclaimingCoordinator) Park(id uint64) {
	c.parkCount.Add(1)
}

func TestOutOfBlocksTriggersGCAndRetries(t *testing.T) {
	s := NewSpace(1 * BlockSize)
	defer s.Close()
	coord := &reclaimingCoordinator{space: s}
	var flag atomic.Bool
	m := NewMutator(s, coord, 7, &flag)

	// Exhaust the only block directly, bypassing the mutator, so the
	// first TryAllocFromLocal call has nothing left to lease.
	blk, err := s.GetNextUsableBlock()
	if err != nil {
		t.Fatal(err)
	}
	s.ReturnUsedBlock(blk)
	// Mark it artificially Full so the space reports ErrOutOfBlocks.
	s.blockStates[0].Store(int32(blockFull))

	addr := m.TryAllocFromLocal(32, 8)
	if addr.IsZero() {
		t.Fatal("expected a non-null address after GC reclaimed the block")
	}
	if coord.gcCount.Load() == 0 {
		t.Fatal("expected TriggerGC to have been called")
	}
	if coord.parkCount.Load() == 0 {
		t.Fatal("expected the mutator to have parked at least once")
	}
}

func TestYieldpointOnlyParksWhenFlagSet(t *testing.T) {
	s := NewSpace(1 * BlockSize)
	defer s.Close()
	coord := &reclaimingCoordinator{space: s}
	var flag atomic.Bool
	m := NewMutator(s, coord, 1, &flag)

	m.Yieldpoint()
	if coord.parkCount.Load() != 0 {
		t.Fatal("Yieldpoint parked with the flag clear")
	}

	flag.Store(true)
	m.Yieldpoint()
	if coord.parkCount.Load() != 1 {
		t.Fatalf("Yieldpoint should have parked once, got %d", coord.parkCount.Load())
	}
	if m.State() != StateRunning {
		t.Fatalf("mutator should return to Running after YieldpointSlow, got %v", m.State())
	}
}

func TestDropReturnsHeldBlock(t *testing.T) {
	s, m, _ := newTestSpace(t, 1)
	m.Alloc(16, 8)
	if m.heldBlock == noBlock {
		t.Fatal("mutator should hold a block after allocating")
	}
	m.Drop()
	if m.heldBlock != noBlock {
		t.Fatal("Drop should clear heldBlock")
	}
	stats := s.Stats()
	if stats.InUse != 0 {
		t.Fatalf("no block should remain InUse after Drop, got %+v", stats)
	}
}
