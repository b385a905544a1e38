// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gc implements the stop-the-world collection cycle: request,
// stop, parallel mark, sweep, resume. It owns the yield flag every
// mutator polls at its yieldpoints, and the parked-mutator roster the
// cycle waits on before tracing.
package gc

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"immixgc/address"
	"immixgc/internal/immix"
	"immixgc/losp"
	"immixgc/objectmodel"
	"immixgc/root"
)

// ErrHeapExhausted is reported to a requesting mutator when a completed
// collection cycle reclaims no memory and the triggering allocation
// still cannot be satisfied. It originates in the allocation slow path
// (which is where the exhaustion is actually observed) and is re-exported
// here because the coordinator is the component that owns the failure.
var ErrHeapExhausted = immix.ErrHeapExhausted

type cycleState int32

const (
	stateIdle cycleState = iota
	stateRequested
	stateCollecting
)

// Coordinator orchestrates collection cycles across the Immix space,
// the free-list space, and every registered mutator. It implements
// immix.Coordinator, so internal/immix's slow allocation path can
// trigger a cycle and park without importing this package.
type Coordinator struct {
	immixSpace *immix.Space
	loSpace    *losp.Space
	model      objectmodel.Model
	roots      root.Enumerator
	log        *zap.Logger

	gcThreads int

	state     atomic.Int32
	yieldFlag atomic.Bool

	mu       sync.Mutex
	cond     *sync.Cond
	mutators map[uint64]*mutatorHandle
	parked   int
}

type mutatorHandle struct {
	id       uint64
	isParked bool
}

// Config bundles the arguments NewCoordinator needs: the two spaces to
// collect over, the object model and root enumerator contracts, the
// parallel trace worker count, and an optional logger.
type Config struct {
	ImmixSpace *immix.Space
	LOSpace    *losp.Space
	Model      objectmodel.Model
	Roots      root.Enumerator
	GCThreads  int
	Logger     *zap.Logger
}

// NewCoordinator binds the given spaces and object model, and
// configures the worker count used by each cycle's mark phase.
func NewCoordinator(cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	threads := cfg.GCThreads
	if threads <= 0 {
		threads = 1
	}
	c := &Coordinator{
		immixSpace: cfg.ImmixSpace,
		loSpace:    cfg.LOSpace,
		model:      cfg.Model,
		roots:      cfg.Roots,
		log:        log,
		gcThreads:  threads,
		mutators:   make(map[uint64]*mutatorHandle),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// YieldFlag returns the shared flag every mutator's cheap yieldpoint
// polls. The coordinator writes it with release semantics (atomic.Bool
// store) when requesting a stop and clears it before resume.
func (c *Coordinator) YieldFlag() *atomic.Bool {
	return &c.yieldFlag
}

// Register adds a mutator to the roster the coordinator waits on before
// tracing. A mutator created while a stop is underway joins as parked:
// Register blocks the creating goroutine until the cycle resumes the
// world, so the new mutator never runs concurrently with marking.
func (c *Coordinator) Register(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutators[id] = &mutatorHandle{id: id}
	if c.yieldFlag.Load() {
		for {
			c.parkLocked(id)
			if c.stateLoaded() != stateCollecting && c.stateLoaded() != stateRequested {
				break
			}
			c.cond.Wait()
		}
		c.unparkLocked(id)
	}
}

// Unregister removes a mutator, e.g. on drop_mutator.
func (c *Coordinator) Unregister(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.mutators[id]; ok && h.isParked {
		c.parked--
	}
	delete(c.mutators, id)
	c.cond.Broadcast()
}

// TriggerGC requests a collection cycle and returns without waiting for
// it to finish: the calling mutator still has to reach its own
// yieldpoint and park like every other mutator, so the cycle itself
// runs on a separate goroutine rather than blocking the caller here.
// Idempotent: requests made while a cycle is already pending or running
// are no-ops.
func (c *Coordinator) TriggerGC() {
	if !c.state.CompareAndSwap(int32(stateIdle), int32(stateRequested)) {
		return
	}
	c.yieldFlag.Store(true)
	c.log.Debug("gc: cycle requested")
	go c.runCycle()
}

// Park blocks the calling mutator, identified by id, until the
// coordinator broadcasts resume. The caller must have already published
// anything the root enumerator needs to observe for this mutator; by
// the time Roots(id) is called below, the park has already acted as the
// publication barrier.
func (c *Coordinator) Park(id uint64) {
	c.mu.Lock()
	for {
		// Assert the parked mark before every wait, not just once: a
		// resume between back-to-back cycles clears it while this
		// waiter is still asleep, and the next cycle's stop barrier
		// must still count this mutator.
		c.parkLocked(id)
		if c.stateLoaded() != stateCollecting && c.stateLoaded() != stateRequested {
			break
		}
		c.cond.Wait()
	}
	c.unparkLocked(id)
	c.mu.Unlock()
}

// unparkLocked undoes a park the cycle's resume did not already undo —
// the case where a mutator parked with no cycle pending. Leaving it
// counted as parked would let a later cycle start marking while the
// mutator runs.
func (c *Coordinator) unparkLocked(id uint64) {
	if h, ok := c.mutators[id]; ok && h.isParked {
		h.isParked = false
		c.parked--
	}
}

func (c *Coordinator) parkLocked(id uint64) {
	h, ok := c.mutators[id]
	if !ok {
		h = &mutatorHandle{id: id}
		c.mutators[id] = h
	}
	if !h.isParked {
		h.isParked = true
		c.parked++
	}
	c.cond.Broadcast()
}

func (c *Coordinator) stateLoaded() cycleState { return cycleState(c.state.Load()) }

// runCycle executes one full stop/mark/sweep/resume pass. Only the
// goroutine that won the CAS in TriggerGC runs this; every mutator is
// either already parked or will park at its next yieldpoint and wait on
// cond.
func (c *Coordinator) runCycle() {
	c.state.Store(int32(stateCollecting))

	c.mu.Lock()
	for c.parked < len(c.mutators) {
		c.cond.Wait()
	}
	roots := c.collectRootsLocked()
	c.mu.Unlock()

	c.log.Debug("gc: all mutators parked, marking", zap.Int("roots", len(roots)))

	loBefore := c.loSpace.Stats()

	c.immixSpace.PrepareForGC()
	c.mark(roots)

	c.log.Debug("gc: sweeping")
	c.immixSpace.Sweep()
	c.loSpace.Sweep()

	immixAfter := c.immixSpace.Stats()
	loAfter := c.loSpace.Stats()

	// Clearing the flag before the resume broadcast orders it after
	// sweep for every mutator that wakes below.
	c.yieldFlag.Store(false)
	c.state.Store(int32(stateIdle))

	c.mu.Lock()
	for _, h := range c.mutators {
		h.isParked = false
	}
	c.parked = 0
	c.cond.Broadcast()
	c.mu.Unlock()

	c.log.Info("gc: cycle complete",
		zap.Int64("immix_usable_blocks", immixAfter.Usable),
		zap.Int64("immix_full_blocks", immixAfter.Full),
		zap.Int64("lo_bytes_reclaimed", loBefore.UsedBytes-loAfter.UsedBytes),
		zap.Int64("lo_bytes_live", loAfter.UsedBytes),
	)
}

func (c *Coordinator) collectRootsLocked() []address.ObjectReference {
	var all []address.ObjectReference
	for id := range c.mutators {
		all = append(all, c.roots.Roots(id)...)
	}
	return all
}

// mark seeds a shared work queue with roots and runs gcThreads workers
// under an errgroup, terminating when the queue is empty and every
// worker is idle.
func (c *Coordinator) mark(roots []address.ObjectReference) {
	q := newWorkQueue(roots)
	q.workers = c.gcThreads
	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < c.gcThreads; i++ {
		g.Go(func() error {
			c.markWorker(q)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) markWorker(q *workQueue) {
	for {
		ref, ok := q.pop()
		if !ok {
			return
		}
		if ref.IsNull() {
			continue
		}
		if c.markOne(ref) {
			c.model.ScanReferences(ref, func(child address.ObjectReference) {
				if !child.IsNull() {
					q.push(child)
				}
			})
		}
	}
}

// markOne sets the mark bit/state for ref's residency and reports
// whether this call performed the 0->1 transition. The caller that
// observes true is the single enumerator of that object's slots this
// cycle, so no object is scanned twice however many workers race on it.
func (c *Coordinator) markOne(ref address.ObjectReference) bool {
	addr := ref.ToAddress()
	if c.immixSpace.Contains(addr) {
		return !c.immixSpace.TestAndSetMark(addr)
	}
	wasLive, ok := c.loSpace.TestAndMark(addr)
	if !ok {
		return false
	}
	return !wasLive
}
