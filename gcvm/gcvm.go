// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gcvm binds the Immix space, the free-list space, and the GC
// coordinator into a process-wide holder, and exposes the narrow
// embedding API — init, new-mutator, alloc, alloc-slow, alloc-large,
// yieldpoint and drop-mutator — as package-level functions operating on
// that holder.
//
// Runtime is the explicit context handle; every package-level function
// below is a thin wrapper that resolves the singleton Runtime installed
// by Init before delegating to it. Normal Go callers should prefer
// constructing a Runtime directly; the package-level functions exist
// for embedders that can only reach a C-ABI-shaped global entry point
// and cannot thread a context pointer through their calls.
package gcvm

import (
	"sync"

	"go.uber.org/zap"

	"immixgc/address"
	"immixgc/gc"
	"immixgc/internal/immix"
	"immixgc/losp"
	"immixgc/objectmodel"
	"immixgc/root"
)

// Config bundles the arguments the process-wide holder needs at
// installation time. ImmixSize and LOSize are byte counts, already
// split from a single HEAP_SIZE budget by the embedder; splitting is
// the embedder's/CLI's job, not this package's.
type Config struct {
	ImmixSize int64
	LOSize    int64
	GCThreads int

	// Model supplies the embedder's object layout contract: given a
	// live object, yield its reference fields. Required; a GC that can
	// never find outgoing references can never safely reclaim a live
	// heap.
	Model objectmodel.Model

	// Roots supplies the embedder's root enumerator. If nil, Runtime
	// installs its own root.StaticEnumerator, reachable via
	// Runtime.Roots, which callers that track their own root sets
	// (tests, the demo CLI) populate directly with SetRoots/AddRoot.
	Roots root.Enumerator

	// Logger receives structured cycle diagnostics. Defaults to a nop
	// logger.
	Logger *zap.Logger
}

// Runtime is the explicit context handle binding one Immix space, one
// free-list space and one GC coordinator together. Nothing requires a
// process to hold only one. Safe for concurrent use by multiple
// mutators.
type Runtime struct {
	immixSpace *immix.Space
	loSpace    *losp.Space
	coord      *gc.Coordinator
	roots      root.Enumerator
	staticRoots *root.StaticEnumerator // non-nil only if Config.Roots was nil

	log *zap.Logger

	nextID uint64
	idMu   sync.Mutex
}

// NewRuntime reserves the Immix and free-list spaces described by cfg
// and binds a GC coordinator over them. This is Init's behavior
// exposed as a constructor instead of a global installer.
func NewRuntime(cfg Config) *Runtime {
	if cfg.Model == nil {
		panic("gcvm: Config.Model is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	is := immix.NewSpace(cfg.ImmixSize)
	lo := losp.NewSpace(cfg.LOSize)

	rt := &Runtime{immixSpace: is, loSpace: lo, log: log}

	roots := cfg.Roots
	if roots == nil {
		rt.staticRoots = root.NewStaticEnumerator()
		roots = rt.staticRoots
	}
	rt.roots = roots

	rt.coord = gc.NewCoordinator(gc.Config{
		ImmixSpace: is,
		LOSpace:    lo,
		Model:      cfg.Model,
		Roots:      roots,
		GCThreads:  cfg.GCThreads,
		Logger:     log,
	})
	return rt
}

// Close releases the backing memory reservation. The runtime must not
// be used afterward.
func (rt *Runtime) Close() {
	rt.immixSpace.Close()
}

// ImmixSpace exposes the underlying Immix space, e.g. for Stats()
// reporting in the demo CLI.
func (rt *Runtime) ImmixSpace() *immix.Space { return rt.immixSpace }

// LOSpace exposes the underlying free-list space.
func (rt *Runtime) LOSpace() *losp.Space { return rt.loSpace }

// Roots returns the built-in mutable root enumerator, or nil if the
// caller supplied its own Config.Roots.
func (rt *Runtime) Roots() *root.StaticEnumerator { return rt.staticRoots }

// TriggerGC requests a collection cycle without waiting for it, same
// contract as gc.Coordinator.TriggerGC.
func (rt *Runtime) TriggerGC() { rt.coord.TriggerGC() }

// NewMutator creates a thread-local mutator bound to this runtime. The
// caller owns the returned handle exclusively and must not share it
// across goroutines.
func (rt *Runtime) NewMutator() *Mutator {
	rt.idMu.Lock()
	rt.nextID++
	id := rt.nextID
	rt.idMu.Unlock()

	m := &Mutator{
		rt: rt,
		id: id,
	}
	m.inner = immix.NewMutator(rt.immixSpace, rt.coord, id, rt.coord.YieldFlag())
	rt.coord.Register(id)
	return m
}

// --- process-wide singleton: the C-ABI-shaped embedding surface ---

var (
	singletonMu sync.RWMutex
	singleton   *Runtime
)

// Init installs the process-wide Runtime. Reinitialization is not
// supported: a second call replaces the singleton but does not migrate
// mutators created against the first one.
func Init(cfg Config) {
	rt := NewRuntime(cfg)
	singletonMu.Lock()
	singleton = rt
	singletonMu.Unlock()
}

func current() *Runtime {
	singletonMu.RLock()
	defer singletonMu.RUnlock()
	if singleton == nil {
		panic("gcvm: Init (gc_init) must be called before use")
	}
	return singleton
}

// NewMutatorGlobal is new_mutator() against the process-wide Runtime
// installed by Init. The Global suffix sets it apart from the
// Runtime.NewMutator method above.
func NewMutatorGlobal() *Mutator { return current().NewMutator() }

// DropMutator destroys a mutator handle: drop_mutator(Mutator*).
func DropMutator(m *Mutator) { m.Drop() }

// Alloc is the fast-path allocation entry point: alloc(Mutator*, size,
// align) -> ObjectReference.
func Alloc(m *Mutator, size, align uintptr) address.ObjectReference {
	return m.Alloc(size, align)
}

// AllocSlow is the explicit slow path: alloc_slow(Mutator*, size,
// align) -> ObjectReference.
func AllocSlow(m *Mutator, size, align uintptr) address.ObjectReference {
	return m.AllocSlow(size, align)
}

// AllocLarge is the free-list allocation entry point, alignment fixed
// at 8: alloc_large(Mutator*, size) -> ObjectReference. Returns
// ErrOutOfMemory if a completed GC cycle still cannot satisfy size.
func AllocLarge(m *Mutator, size uintptr) (address.ObjectReference, error) {
	return m.AllocLarge(size)
}

// Yieldpoint is the safepoint check: yieldpoint(Mutator*).
func Yieldpoint(m *Mutator) { m.Yieldpoint() }

// YieldpointSlow is the safepoint implementation: yieldpoint_slow(Mutator*).
func YieldpointSlow(m *Mutator) { m.YieldpointSlow() }

// SetLowWaterMark is the out-of-band call into the embedder for stack
// scanning. The collector has nothing to do here itself — stack
// scanning is entirely the embedder's responsibility — so this is a
// documented no-op hook an embedder's low-water-mark signal handler can
// call without the core needing to know why.
func SetLowWaterMark() {}
