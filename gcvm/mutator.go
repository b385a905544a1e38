// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcvm

import (
	"errors"

	"immixgc/address"
	"immixgc/internal/immix"
)

// ErrOutOfMemory is surfaced to AllocLarge's caller when a completed GC
// cycle still leaves no room for the requested allocation. Failed
// attempts before a GC has run are not errors; they just trigger one.
var ErrOutOfMemory = errors.New("gcvm: out of memory")

// maxAllocLargeRetries bounds the retry-after-GC loop in AllocLarge so
// a heap that can truly never satisfy a request fails instead of
// spinning forever.
const maxAllocLargeRetries = 8

// allocLargeAlign is AllocLarge's fixed alignment.
const allocLargeAlign = 8

// Mutator is a thread-local handle exclusively owned by one goroutine.
// It wraps internal/immix.Mutator with the free-list allocation path
// and the large-object retry protocol the embedding API needs on top
// of the bare Immix allocator.
type Mutator struct {
	rt    *Runtime
	id    uint64
	inner *immix.Mutator
}

// ID returns the mutator's cached thread identifier.
func (m *Mutator) ID() uint64 { return m.id }

// Drop relinquishes the mutator's held block and unregisters it from
// the coordinator's roster. The handle must not be used afterward.
func (m *Mutator) Drop() {
	m.inner.Drop()
	m.rt.coord.Unregister(m.id)
}

// Alloc is the fast-path Immix allocation entry point. Precondition:
// 0 < size <= immix.MaxObjectSize, align a power of two; violating it
// panics with immix.ErrInvalidLayout — a programmer error, not a
// recoverable condition.
func (m *Mutator) Alloc(size, align uintptr) address.ObjectReference {
	return m.inner.Alloc(size, align).ToObjectReference()
}

// AllocSlow is the explicit slow path: line-scan within the held
// block, then fresh-block acquisition, triggering GC and parking when
// the space has no block left to lease.
func (m *Mutator) AllocSlow(size, align uintptr) address.ObjectReference {
	return m.inner.TryAllocFromLocal(size, align).ToObjectReference()
}

// AllocLarge services an allocation via the free-list space: execute a
// yieldpoint, attempt the alloc, and on failure request a GC cycle and
// retry, bounded by maxAllocLargeRetries. Exhaustion here is
// recoverable right up until a completed GC still leaves no room, at
// which point it is surfaced to the caller as ErrOutOfMemory rather
// than panicking — the embedder's policy decides whether that is fatal.
func (m *Mutator) AllocLarge(size uintptr) (address.ObjectReference, error) {
	for attempt := 0; attempt < maxAllocLargeRetries; attempt++ {
		m.Yieldpoint()
		if addr := m.rt.loSpace.Alloc(int64(size), allocLargeAlign); !addr.IsZero() {
			return addr.ToObjectReference(), nil
		}
		if attempt == maxAllocLargeRetries-1 {
			break
		}
		m.rt.coord.TriggerGC()
		m.YieldpointSlow()
	}
	return address.ObjectReference(0), ErrOutOfMemory
}

// Yieldpoint is the cheap safepoint check compiled into mutator code.
func (m *Mutator) Yieldpoint() { m.inner.Yieldpoint() }

// YieldpointSlow publishes this mutator's roots and blocks until the
// coordinator broadcasts resume.
func (m *Mutator) YieldpointSlow() { m.inner.YieldpointSlow() }

// State returns the mutator's position in the yieldpoint state
// machine: Running, YieldRequested or Parked.
func (m *Mutator) State() immix.MutatorState { return m.inner.State() }
