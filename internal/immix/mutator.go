// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package immix

import (
	"sync/atomic"

	"immixgc/address"
)

const noBlock int32 = -1

// MutatorState is the yieldpoint state machine a Mutator moves through
// during a collection cycle: Running -> YieldRequested -> Parked ->
// Running.
type MutatorState int32

const (
	StateRunning MutatorState = iota
	StateYieldRequested
	StateParked
)

// Coordinator is the narrow interface a Mutator needs from the GC
// coordinator: a way to request a collection cycle, and a way to park at
// a yieldpoint until the coordinator resumes the world. Implemented by
// package gc's Coordinator; kept here as an interface to avoid a import
// cycle between immix (the allocator) and gc (the orchestrator that
// allocates into it).
type Coordinator interface {
	// TriggerGC requests a collection cycle. Idempotent: redundant
	// requests while one is already pending or running are no-ops.
	TriggerGC()
	// Park blocks the calling mutator (identified by id), first
	// publishing its root set, until the coordinator broadcasts resume.
	Park(id uint64)
}

// Mutator is a thread-local handle for bump-pointer allocation into a
// held Immix block. It must not be shared across goroutines.
type Mutator struct {
	space *Space
	coord Coordinator
	id    uint64

	heldBlock int32
	cursor    address.Address
	limit     address.Address

	yieldFlag *atomic.Bool
	state     atomic.Int32
}

// NewMutator creates a mutator bound to space, coordinated by coord, with
// the given thread identifier and a pointer to the coordinator's shared
// yield flag.
func NewMutator(space *Space, coord Coordinator, id uint64, yieldFlag *atomic.Bool) *Mutator {
	return &Mutator{
		space:     space,
		coord:     coord,
		id:        id,
		heldBlock: noBlock,
		yieldFlag: yieldFlag,
	}
}

// ID returns the mutator's cached thread identifier.
func (m *Mutator) ID() uint64 { return m.id }

// State returns the mutator's current position in the yieldpoint state
// machine.
func (m *Mutator) State() MutatorState {
	return MutatorState(m.state.Load())
}

// Drop relinquishes any block this mutator currently holds. Safe to call
// at most once; the mutator must not be used afterward.
func (m *Mutator) Drop() {
	if m.heldBlock != noBlock {
		m.space.ReturnUsedBlock(m.heldBlock)
		m.heldBlock = noBlock
	}
}

// Alloc is the fast path: bump m.cursor (aligned) by size and return the
// old value if it still fits before m.limit; otherwise fall through to
// the slow path. Precondition: 0 < size <= MaxObjectSize, align is a
// power of two. Violating the precondition is a programmer error and
// panics with ErrInvalidLayout.
func (m *Mutator) Alloc(size, align uintptr) address.Address {
	validateLayout(size, align)
	cursor := m.cursor.AlignUp(align)
	end := cursor.Add(int64(size))
	if end <= m.limit {
		m.cursor = end
		m.space.RecordExtent(cursor, int64(size))
		return cursor
	}
	return m.TryAllocFromLocal(size, align)
}

func validateLayout(size, align uintptr) {
	if size == 0 || size > MaxObjectSize {
		panic(ErrInvalidLayout)
	}
	if align == 0 || align&(align-1) != 0 {
		panic(ErrInvalidLayout)
	}
}

// maxUnproductiveGCs bounds how many completed collection cycles the
// slow path will wait through without the space yielding a block before
// it gives up.
const maxUnproductiveGCs = 3

// TryAllocFromLocal is the explicit slow path: it first tries the
// line-scan within the currently held block, then acquires fresh blocks
// from the Immix space (triggering GC and parking when none remain)
// until an allocation succeeds. If consecutive completed cycles leave
// the space with no leasable block, it panics with ErrHeapExhausted.
func (m *Mutator) TryAllocFromLocal(size, align uintptr) address.Address {
	validateLayout(size, align)
	gcRounds := 0
	for {
		if m.heldBlock != noBlock {
			if addr, ok := m.allocFromHeldBlock(size, align); ok {
				return addr
			}
			m.space.ReturnUsedBlock(m.heldBlock)
			m.heldBlock = noBlock
		}

		blk, err := m.space.GetNextUsableBlock()
		if err != nil {
			if gcRounds >= maxUnproductiveGCs {
				panic(ErrHeapExhausted)
			}
			gcRounds++
			m.coord.TriggerGC()
			m.YieldpointSlow()
			continue
		}
		gcRounds = 0
		m.heldBlock = blk
		base := m.space.BlockBase(blk)
		m.cursor, m.limit = base, base
	}
}

// allocFromHeldBlock scans forward from the current cursor for the next
// run of Free lines long enough for size, and bumps into it if found.
func (m *Mutator) allocFromHeldBlock(size, align uintptr) (address.Address, bool) {
	needLines := (int64(size) + LineSize - 1) / LineSize
	lo, hi, ok := m.space.GetNextAvailableLine(m.heldBlock, m.cursor, needLines)
	if !ok {
		return 0, false
	}
	m.cursor, m.limit = lo, hi
	cursor := m.cursor.AlignUp(align)
	end := cursor.Add(int64(size))
	if end > m.limit {
		return 0, false
	}
	m.cursor = end
	m.space.RecordExtent(cursor, int64(size))
	return cursor, true
}

// Yieldpoint is the cheap safepoint check compiled into mutator code: a
// single flag read. When the coordinator has requested a stop, it
// invokes the slow path.
func (m *Mutator) Yieldpoint() {
	if m.yieldFlag.Load() {
		m.state.Store(int32(StateYieldRequested))
		m.YieldpointSlow()
	}
}

// YieldpointSlow publishes this mutator's roots (via the coordinator,
// which owns the root enumerator) and blocks until the coordinator
// broadcasts resume. A cycle may have rederived the held block's line
// states while this mutator was parked, so the stale bump range is
// discarded: the next allocation re-scans the block from its base,
// which also picks up any lines the sweep just reclaimed.
func (m *Mutator) YieldpointSlow() {
	m.state.Store(int32(StateParked))
	m.coord.Park(m.id)
	m.state.Store(int32(StateRunning))
	if m.heldBlock != noBlock {
		base := m.space.BlockBase(m.heldBlock)
		m.cursor, m.limit = base, base
	}
}
