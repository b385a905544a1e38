// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package root defines the contract between a mutator and the
// collector for publishing its root set at a yieldpoint: the
// collector never scans a stack or a set of globals itself, it only
// asks the embedder for the references currently reachable from
// thread-local and global state, since it has no stack-unwinding or
// type-layout facility of its own.
package root

import (
	"sync"

	"immixgc/address"
)

// Enumerator is implemented by the embedder to publish a mutator's
// root set when it parks at a yieldpoint. Roots must return every
// reference reachable from thread-local state (the native stack,
// registers spilled via set_low_water_mark, thread-locals) for the
// mutator identified by threadID.
type Enumerator interface {
	// Roots returns the root set for the mutator identified by
	// threadID, valid at the moment it is called. The collector calls
	// this exactly once per mutator per collection cycle, after that
	// mutator has parked.
	Roots(threadID uint64) []address.ObjectReference
}

// StaticEnumerator is a reference/test implementation of Enumerator
// backed by an explicit, caller-populated table — the collector
// equivalent of a fixed Root list rather than one recovered from a
// live stack. Useful for embedders (and tests) that track their own
// global/thread-local reference sets without a GC-aware stack map.
// Safe for concurrent use: each mutator publishes under its own
// threadID while the collector reads the whole table.
type StaticEnumerator struct {
	mu    sync.Mutex
	roots map[uint64][]address.ObjectReference
}

// NewStaticEnumerator returns an empty StaticEnumerator.
func NewStaticEnumerator() *StaticEnumerator {
	return &StaticEnumerator{roots: make(map[uint64][]address.ObjectReference)}
}

// SetRoots replaces the root set published for threadID.
func (e *StaticEnumerator) SetRoots(threadID uint64, refs []address.ObjectReference) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roots[threadID] = refs
}

// AddRoot appends a single reference to threadID's root set.
func (e *StaticEnumerator) AddRoot(threadID uint64, ref address.ObjectReference) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roots[threadID] = append(e.roots[threadID], ref)
}

// Roots returns a copy of threadID's published root set, or nil if
// none has been set.
func (e *StaticEnumerator) Roots(threadID uint64) []address.ObjectReference {
	e.mu.Lock()
	defer e.mu.Unlock()
	refs := e.roots[threadID]
	if len(refs) == 0 {
		return nil
	}
	out := make([]address.ObjectReference, len(refs))
	copy(out, refs)
	return out
}
