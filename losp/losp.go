// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package losp implements the free-list large-object space: a
// size-capped collection of individually host-allocated objects, each
// tracked by a small header node, reclaimed node-at-a-time during
// sweep rather than by the Immix space's block/line recycling.
package losp

import (
	"fmt"
	"sync"
	"unsafe"

	"immixgc/address"
)

// MarkState is a free-list node's position in the sweep's three-state
// liveness cycle.
type MarkState int32

const (
	// FreshAlloc marks a node allocated since the last sweep; it has not
	// yet been confirmed live by a collection cycle.
	FreshAlloc MarkState = iota
	// Live marks a node the current mark phase found reachable.
	Live
	// PrevLive marks a node that was Live as of the previous sweep but
	// has not yet been re-confirmed by the current cycle.
	PrevLive
)

func (s MarkState) String() string {
	switch s {
	case FreshAlloc:
		return "FreshAlloc"
	case Live:
		return "Live"
	case PrevLive:
		return "PrevLive"
	default:
		return fmt.Sprintf("MarkState(%d)", int32(s))
	}
}

// node is one free-list entry: a host-allocated backing buffer and the
// bookkeeping the space needs to mark and later free it.
type node struct {
	id    int64
	start address.Address
	size  int64
	align uintptr
	mark  MarkState

	backing []byte // keeps the Go GC honest about the buffer's liveness
}

func (n *node) String() string {
	return fmt.Sprintf("FreeListNode#%d(start=%#x, size=%d, align=%d, state=%v)", n.id, uintptr(n.start), n.size, n.align, n.mark)
}

// Space is the free-list large-object space: a capacity-capped,
// singly-ordered collection of nodes, each representing one
// independently allocated object. All mutation is serialized behind a
// single exclusive lock — Alloc, TestAndMark and Sweep all take the
// write lock; String and Stats (used for debugging/inspection) take
// the read lock.
type Space struct {
	mu sync.RWMutex

	sizeCap   int64
	usedBytes int64
	nextID    int64

	nodes []*node
	byAddr map[address.Address]*node
}

// NewSpace creates a free-list space capped at sizeCap bytes of total
// live allocation.
func NewSpace(sizeCap int64) *Space {
	return &Space{
		sizeCap: sizeCap,
		byAddr:  make(map[address.Address]*node),
	}
}

// Alloc allocates size bytes aligned to align via the host allocator,
// registers a FreshAlloc node, and returns its address. Returns
// address.Null if the allocation would exceed the space's size cap.
// Precondition: size > 0.
func (s *Space) Alloc(size int64, align uintptr) address.Address {
	if size <= 0 {
		panic("losp: size must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usedBytes+size > s.sizeCap {
		return address.Null
	}

	// Over-allocate so an align-aligned interior address always exists.
	backing := make([]byte, size+int64(align))
	raw := address.FromPointer(unsafe.Pointer(&backing[0]))
	start := raw.AlignUp(align)

	s.nextID++
	n := &node{
		id:      s.nextID,
		start:   start,
		size:    size,
		align:   align,
		mark:    FreshAlloc,
		backing: backing,
	}
	s.nodes = append(s.nodes, n)
	s.byAddr[start] = n
	s.usedBytes += size
	return start
}

// TestAndMark sets the mark state of the node whose start address
// equals addr to Live and reports whether it was already Live — the
// "did I flip it?" transition the coordinator needs to decide whether
// to enumerate the object's reference slots. Lookup is an address-keyed
// map: free-list nodes have irregular, independently-allocated
// addresses unsuited to bitmap indexing. Mirrors the Immix space's
// TestAndSetMark but backed by the space's lock instead of an atomic
// bit. Returns ok=false if addr names no node.
func (s *Space) TestAndMark(addr address.Address) (wasLive bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, found := s.byAddr[addr]
	if !found {
		return false, false
	}
	wasLive = n.mark == Live
	n.mark = Live
	return wasLive, true
}

// Sweep walks every node. Live nodes demote to PrevLive and survive;
// PrevLive and FreshAlloc nodes (never reconfirmed this cycle) are
// freed and dropped. used_bytes is recomputed from the surviving set.
func (s *Space) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.nodes[:0]
	var used int64
	for _, n := range s.nodes {
		switch n.mark {
		case Live:
			n.mark = PrevLive
			kept = append(kept, n)
			used += n.size
		default: // PrevLive, FreshAlloc
			delete(s.byAddr, n.start)
		}
	}
	s.nodes = kept
	s.usedBytes = used
}

// Stats summarizes the space's occupancy for the demo CLI and tests.
type Stats struct {
	NodeCount int
	UsedBytes int64
	SizeCap   int64
}

// Stats returns a snapshot of the space's occupancy.
func (s *Space) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{NodeCount: len(s.nodes), UsedBytes: s.usedBytes, SizeCap: s.sizeCap}
}

// String renders a human-readable dump of every live node.
func (s *Space) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := fmt.Sprintf("FreeListSpace(used=%d, cap=%d, nodes=%d)", s.usedBytes, s.sizeCap, len(s.nodes))
	for _, n := range s.nodes {
		out += "\n  " + n.String()
	}
	return out
}
