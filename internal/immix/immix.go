// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package immix implements the block/line-structured Immix heap: a
// contiguous region of memory carved into fixed-size blocks, each
// subdivided into fixed-size lines, served to mutators via bump-pointer
// allocation with a recycled-line slow path.
package immix

import (
	"errors"
	"sync"
	"sync/atomic"

	"immixgc/address"
	"immixgc/addrmap"
)

const (
	// BlockSize is the size in bytes of one Immix block.
	BlockSize = 32 * 1024
	// LineSize is the size in bytes of one line within a block.
	LineSize = 256
	// LinesPerBlock is the number of lines in a block.
	LinesPerBlock = BlockSize / LineSize
	// MaxObjectSize is the largest object the fast/slow allocation path
	// will accept; anything larger belongs in the large-object space.
	MaxObjectSize = BlockSize - LineSize
)

// ErrOutOfBlocks is returned by GetNextUsableBlock when no Unallocated or
// Usable block remains. Callers should trigger a GC cycle and retry.
var ErrOutOfBlocks = errors.New("immix: out of blocks")

// ErrInvalidLayout indicates a zero-size allocation or a non-power-of-two
// alignment; it is a programmer error, not a recoverable condition.
var ErrInvalidLayout = errors.New("immix: invalid layout")

// ErrHeapExhausted indicates that a completed collection cycle reclaimed
// nothing and the pending allocation still cannot be satisfied. The
// allocation slow path panics with it after a bounded number of
// unproductive GC rounds; embedder policy decides whether to recover.
var ErrHeapExhausted = errors.New("immix: heap exhausted")

type blockState int32

const (
	blockUnallocated blockState = iota
	blockInUse
	blockUsable
	blockFull
)

type lineState byte

const (
	lineFree lineState = iota
	lineMarked
	lineConservativelyMarked
	// lineFreshAlloc is allocation-time bookkeeping, not a sweep
	// verdict: it records that a Free line's bytes were handed to a
	// mutator as part of a bump range, so the line cannot be leased
	// again before the next sweep rederives its true state.
	lineFreshAlloc
)

// Space owns a large contiguous byte range carved into blocks and lines.
// It is shared by all mutators and the collector; block leasing is
// lock-free (CAS), and line-state writes happen either during a
// collection cycle, when no mutator is running, or on a block the
// writing mutator holds exclusively (leasing and line-run allocation).
type Space struct {
	base      address.Address
	size      int64
	numBlocks int64

	blockStates []atomic.Int32     // per-block state, index = block number
	lineStates  *addrmap.ByteMap   // per-line state, granularity LineSize
	markBits    *addrmap.Bitmap    // per-object-base mark bit, granularity minAlign
	crossBits   *addrmap.Bitmap    // companion to markBits: set if the object based here extends past its own line

	sizes sync.Map // address.Address -> int64, recorded at allocation time

	leaseCursor atomic.Int64 // next block index to start scanning from, for address-order fairness

	unmap func() // releases the backing mapping; nil if nothing to release
}

const minAlign = 8

// NewSpace reserves size bytes (rounded up to a multiple of BlockSize)
// and initializes every block Unallocated and every line Free.
func NewSpace(size int64) *Space {
	if size <= 0 {
		panic("immix: size must be positive")
	}
	numBlocks := (size + BlockSize - 1) / BlockSize
	reserved := numBlocks*BlockSize + BlockSize // slack for block alignment

	raw, unmap := reserveMemory(reserved)
	base := raw.AlignUp(BlockSize)

	s := &Space{
		base:        base,
		size:        numBlocks * BlockSize,
		numBlocks:   numBlocks,
		blockStates: make([]atomic.Int32, numBlocks),
		lineStates:  addrmap.NewByteMap(base, numBlocks*BlockSize, LineSize),
		markBits:    addrmap.NewBitmap(base, numBlocks*BlockSize, minAlign),
		crossBits:   addrmap.NewBitmap(base, numBlocks*BlockSize, minAlign),
		unmap:       unmap,
	}
	return s
}

// Close releases the backing memory mapping. The space must not be used
// afterward.
func (s *Space) Close() {
	if s.unmap != nil {
		s.unmap()
	}
}

// Base returns the first address owned by the space.
func (s *Space) Base() address.Address { return s.base }

// Size returns the total number of bytes owned by the space.
func (s *Space) Size() int64 { return s.size }

// Contains reports whether addr falls within the space's reserved range.
func (s *Space) Contains(addr address.Address) bool {
	return addr >= s.base && addr < s.base.Add(s.size)
}

func (s *Space) blockBase(i int64) address.Address {
	return s.base.Add(i * BlockSize)
}

// BlockBase exposes a block's base address to the mutator, which needs it
// to reset its bump range after leasing a new block.
func (s *Space) BlockBase(i int32) address.Address {
	return s.blockBase(int64(i))
}

func (s *Space) initBlockLines(i int64) {
	base := s.blockBase(i)
	for l := int64(0); l < LinesPerBlock; l++ {
		s.lineStates.Set(base.Add(l*LineSize), byte(lineFree))
	}
}

// GetNextUsableBlock atomically leases one Usable or Unallocated block,
// marking it CurrentlyInUseByMutator. Blocks are scanned and leased in
// address order. Returns ErrOutOfBlocks if none are available.
func (s *Space) GetNextUsableBlock() (int32, error) {
	start := s.leaseCursor.Load()
	for offset := int64(0); offset < s.numBlocks; offset++ {
		i := (start + offset) % s.numBlocks
		st := &s.blockStates[i]
		for {
			cur := blockState(st.Load())
			if cur != blockUnallocated && cur != blockUsable {
				break
			}
			if st.CompareAndSwap(int32(cur), int32(blockInUse)) {
				if cur == blockUnallocated {
					s.initBlockLines(i)
				}
				s.leaseCursor.Store((i + 1) % s.numBlocks)
				return int32(i), nil
			}
		}
	}
	return 0, ErrOutOfBlocks
}

// ReturnUsedBlock relinquishes a block a mutator no longer holds. The
// block becomes Full if it has no free lines remaining, else Usable.
func (s *Space) ReturnUsedBlock(i int32) {
	base := s.blockBase(int64(i))
	hasFree := false
	for l := int64(0); l < LinesPerBlock; l++ {
		if lineState(s.lineStates.Get(base.Add(l*LineSize))) == lineFree {
			hasFree = true
			break
		}
	}
	next := blockFull
	if hasFree {
		next = blockUsable
	}
	s.blockStates[i].Store(int32(next))
}

// GetNextAvailableLine scans forward from hint (inclusive) within block
// for a run of at least needLines consecutive Free lines. The run is
// extended to its maximal length, so the mutator's bump range spans
// every contiguous Free line rather than trickling line by line; the
// whole run is marked FreshAlloc so it cannot be leased twice before
// the next sweep rederives its state. Only the mutator currently
// holding the block reaches here, so the line writes need no lock.
func (s *Space) GetNextAvailableLine(block int32, hint address.Address, needLines int64) (lo, hi address.Address, ok bool) {
	base := s.blockBase(int64(block))
	startLine := int64(0)
	if hint >= base {
		rel := int64(hint.Diff(base))
		startLine = (rel + LineSize - 1) / LineSize // round up: never re-issue bytes before hint
	}
	run := int64(0)
	for l := startLine; l < LinesPerBlock; l++ {
		if lineState(s.lineStates.Get(base.Add(l*LineSize))) == lineFree {
			run++
			if run >= needLines {
				for l+1 < LinesPerBlock && lineState(s.lineStates.Get(base.Add((l+1)*LineSize))) == lineFree {
					l++
					run++
				}
				first := l - run + 1
				for f := first; f <= l; f++ {
					s.lineStates.Set(base.Add(f*LineSize), byte(lineFreshAlloc))
				}
				return base.Add(first * LineSize), base.Add((l + 1) * LineSize), true
			}
		} else {
			run = 0
		}
	}
	return 0, 0, false
}

// RecordExtent records the [addr, addr+size) extent of a freshly
// allocated object, so that Sweep can later determine whether a live
// object straddles a line boundary without depending on the (deliberately
// narrow) object-model contract, which exposes only reference fields.
func (s *Space) RecordExtent(addr address.Address, size int64) {
	s.sizes.Store(addr, size)
}

// TestAndSetMark sets the mark bit for addr and reports whether it was
// already set, recording the conservative-marking companion bit the
// first time an object is marked. wasSet == false means the caller won.
func (s *Space) TestAndSetMark(addr address.Address) (wasSet bool) {
	wasSet = s.markBits.TestAndSet(addr)
	if !wasSet {
		if v, ok := s.sizes.Load(addr); ok {
			size := v.(int64)
			if endsInLaterLine(addr, size) {
				s.crossBits.Set(addr)
			}
		}
	}
	return wasSet
}

// IsMarked reports whether addr's mark bit is currently set.
func (s *Space) IsMarked(addr address.Address) bool {
	return s.markBits.Test(addr)
}

// ForEachMarked calls fn with the base address of every object whose
// mark bit is currently set, in ascending address order. Used by the
// demo CLI's inspector, which has no type-aware object table to walk.
func (s *Space) ForEachMarked(fn func(address.Address) bool) {
	s.markBits.ForEachSet(fn)
}

func endsInLaterLine(addr address.Address, size int64) bool {
	if size <= 0 {
		return false
	}
	startLine := uintptr(addr) / LineSize
	endLine := uintptr(addr.Add(size-1)) / LineSize
	return endLine != startLine
}

// PrepareForGC resets the mark bitmap and all line states to Free ahead
// of a marking pass. Block states are left unchanged.
func (s *Space) PrepareForGC() {
	s.markBits.Reset()
	s.crossBits.Reset()
	for i := int64(0); i < s.numBlocks; i++ {
		if blockState(s.blockStates[i].Load()) == blockUnallocated {
			continue
		}
		s.initBlockLines(i)
	}
}

// Sweep derives line states from the mark bitmap set during the mark
// phase and recomputes each block's state. A line is Marked if a live
// object's base lies within it; a line is ConservativelyMarked if the
// previous line is Marked and that line's marked object(s) extend into
// it; otherwise Free. Extent records for objects the mark phase did not
// reach are dropped, since their lines are about to be reissued.
func (s *Space) Sweep() {
	for i := int64(0); i < s.numBlocks; i++ {
		if blockState(s.blockStates[i].Load()) == blockUnallocated {
			continue
		}
		s.sweepBlock(i)
	}
	s.sizes.Range(func(k, _ any) bool {
		if !s.markBits.Test(k.(address.Address)) {
			s.sizes.Delete(k)
		}
		return true
	})
}

func (s *Space) sweepBlock(i int64) {
	base := s.blockBase(i)
	crosses := make([]bool, LinesPerBlock)
	for l := int64(0); l < LinesPerBlock; l++ {
		lineLo := base.Add(l * LineSize)
		lineHi := lineLo.Add(LineSize)
		marked := false
		s.markBits.ForEachSetInRange(lineLo, lineHi, func(a address.Address) bool {
			marked = true
			crosses[l] = s.crossBits.Test(a)
			return true
		})
		if marked {
			s.lineStates.Set(lineLo, byte(lineMarked))
		} else {
			s.lineStates.Set(lineLo, byte(lineFree))
		}
	}
	for l := int64(0); l < LinesPerBlock-1; l++ {
		if lineState(s.lineStates.Get(base.Add(l*LineSize))) == lineMarked && crosses[l] {
			next := l + 1
			if lineState(s.lineStates.Get(base.Add(next*LineSize))) == lineFree {
				s.lineStates.Set(base.Add(next*LineSize), byte(lineConservativelyMarked))
			}
		}
	}

	// A block a mutator still holds stays leased to it across the
	// cycle; only its line states are rederived. The holder re-acquires
	// its bump range when it resumes.
	if blockState(s.blockStates[i].Load()) == blockInUse {
		return
	}
	hasFree := false
	for l := int64(0); l < LinesPerBlock; l++ {
		if lineState(s.lineStates.Get(base.Add(l*LineSize))) == lineFree {
			hasFree = true
			break
		}
	}
	if hasFree {
		s.blockStates[i].Store(int32(blockUsable))
	} else {
		s.blockStates[i].Store(int32(blockFull))
	}
}

// Stats summarizes block occupancy, used by the demo CLI and tests.
type Stats struct {
	Blocks       int64
	Unallocated  int64
	Usable       int64
	Full         int64
	InUse        int64
}

// Stats returns a snapshot of block-state occupancy.
func (s *Space) Stats() Stats {
	var st Stats
	st.Blocks = s.numBlocks
	for i := int64(0); i < s.numBlocks; i++ {
		switch blockState(s.blockStates[i].Load()) {
		case blockUnallocated:
			st.Unallocated++
		case blockUsable:
			st.Usable++
		case blockFull:
			st.Full++
		case blockInUse:
			st.InUse++
		}
	}
	return st
}
