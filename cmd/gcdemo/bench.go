// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"immixgc/address"
	"immixgc/gcvm"
)

func newBenchRuntime(v *viper.Viper, log *zap.Logger) (*gcvm.Runtime, error) {
	cfg, err := loadHeapConfig(v)
	if err != nil {
		return nil, err
	}
	log.Info("heap configured",
		zap.Int64("immix_bytes", cfg.ImmixSize),
		zap.Int64("lo_bytes", cfg.LOSize),
		zap.Int("gc_threads", cfg.GCThreads),
	)
	return gcvm.NewRuntime(gcvm.Config{
		ImmixSize: cfg.ImmixSize,
		LOSize:    cfg.LOSize,
		GCThreads: cfg.GCThreads,
		Model:     nodeModel{},
		Logger:    log,
	}), nil
}

// buildTree allocates a complete binary tree of the given depth via m,
// returning its root. depth 0 is a single leaf node.
func buildTree(m *gcvm.Mutator, depth int) address.ObjectReference {
	obj := m.Alloc(nodeSize, 8)
	if depth > 0 {
		setLeft(obj, buildTree(m, depth-1))
		setRight(obj, buildTree(m, depth-1))
	}
	return obj
}

// buildList allocates a singly-linked list of n nodes via m, returning
// its head.
func buildList(m *gcvm.Mutator, n int) address.ObjectReference {
	var head address.ObjectReference
	for i := 0; i < n; i++ {
		obj := m.Alloc(nodeSize, 8)
		setRight(obj, head)
		head = obj
	}
	return head
}

func newInitObjCmd(v *viper.Viper, getLog func() *zap.Logger) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "initobj",
		Short: "allocate a run of fixed-size objects and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newBenchRuntime(v, getLog())
			if err != nil {
				return err
			}
			defer rt.Close()
			m := rt.NewMutator()
			defer m.Drop()

			start := time.Now()
			for i := 0; i < count; i++ {
				m.Alloc(nodeSize, 8)
			}
			elapsed := time.Since(start)
			fmt.Printf("initobj: %d allocations in %v (%.0f allocs/sec)\n", count, elapsed, float64(count)/elapsed.Seconds())
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1_000_000, "number of objects to allocate")
	bindHeapFlags(cmd, v)
	return cmd
}

func newExhaustCmd(v *viper.Viper, getLog func() *zap.Logger) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "exhaust",
		Short: "allocate past the Immix space's initial capacity, forcing collection cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newBenchRuntime(v, getLog())
			if err != nil {
				return err
			}
			defer rt.Close()
			m := rt.NewMutator()
			defer m.Drop()

			// Keep only the most recent node reachable (no links between
			// nodes) so every earlier one is garbage by the time a cycle
			// runs; this exercises the slow path's GC-trigger-and-retry
			// loop under real pressure rather than just filling the heap
			// once.
			roots := rt.Roots()
			for i := 0; i < count; i++ {
				obj := m.Alloc(nodeSize, 8)
				roots.SetRoots(m.ID(), []address.ObjectReference{obj})
			}
			stats := rt.ImmixSpace().Stats()
			fmt.Printf("exhaust: allocated %d nodes; final block occupancy: %+v\n", count, stats)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 5_000_000, "number of nodes to allocate, retaining only the most recent")
	bindHeapFlags(cmd, v)
	return cmd
}

func runGCBenchOnce(rt *gcvm.Runtime, depth int) time.Duration {
	m := rt.NewMutator()
	defer m.Drop()
	roots := rt.Roots()

	start := time.Now()
	root := buildTree(m, depth)
	roots.SetRoots(m.ID(), []address.ObjectReference{root})
	rt.TriggerGC()
	m.YieldpointSlow()
	roots.SetRoots(m.ID(), nil)
	return time.Since(start)
}

func newGCBenchCmd(v *viper.Viper, getLog func() *zap.Logger, multi bool) *cobra.Command {
	var depth, iterations, workers int
	use := "gcbench"
	short := "build and discard binary trees, triggering a full GC cycle each iteration"
	if multi {
		use = "mt-gcbench"
		short = "concurrent variant of gcbench: each worker goroutine owns its own mutator"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newBenchRuntime(v, getLog())
			if err != nil {
				return err
			}
			defer rt.Close()

			if !multi {
				workers = 1
			}
			var wg sync.WaitGroup
			start := time.Now()
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < iterations; i++ {
						runGCBenchOnce(rt, depth)
					}
				}()
			}
			wg.Wait()
			fmt.Printf("%s: %d workers x %d iterations at depth %d in %v\n", use, workers, iterations, depth, time.Since(start))
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 12, "binary tree depth per iteration")
	cmd.Flags().IntVar(&iterations, "iterations", 10, "tree build/collect iterations per worker")
	if multi {
		cmd.Flags().IntVar(&workers, "workers", 4, "number of concurrent mutator goroutines")
	}
	bindHeapFlags(cmd, v)
	return cmd
}

func newMarkCmd(v *viper.Viper, getLog func() *zap.Logger) *cobra.Command {
	var nodes int
	cmd := &cobra.Command{
		Use:   "mark",
		Short: "build a linked list and time a single mark-and-sweep cycle over it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newBenchRuntime(v, getLog())
			if err != nil {
				return err
			}
			defer rt.Close()
			m := rt.NewMutator()
			defer m.Drop()

			head := buildList(m, nodes)
			rt.Roots().SetRoots(m.ID(), []address.ObjectReference{head})

			start := time.Now()
			rt.TriggerGC()
			m.YieldpointSlow()
			elapsed := time.Since(start)

			marked := 0
			rt.ImmixSpace().ForEachMarked(func(address.Address) bool { marked++; return true })
			fmt.Printf("mark: %d nodes, %d marked, cycle took %v\n", nodes, marked, elapsed)
			return nil
		},
	}
	cmd.Flags().IntVar(&nodes, "nodes", 1000, "length of the linked list to mark")
	bindHeapFlags(cmd, v)
	return cmd
}

// buildDAG allocates n nodes chained left-to-predecessor, with the
// right slot pointing back into the already-allocated prefix: the whole
// graph is reachable from the last node and most nodes have multiple
// incoming edges, the same fixture shape package gc's parallel-tracing
// test uses.
func buildDAG(m *gcvm.Mutator, n int) []address.ObjectReference {
	nodes := make([]address.ObjectReference, 0, n)
	for i := 0; i < n; i++ {
		obj := m.Alloc(nodeSize, 8)
		if i > 0 {
			setLeft(obj, nodes[i-1])
			setRight(obj, nodes[(i*13+1)%i])
		}
		nodes = append(nodes, obj)
	}
	return nodes
}

func newTraceCmd(v *viper.Viper, getLog func() *zap.Logger, multi bool) *cobra.Command {
	var nodes, threads int
	use := "trace"
	short := "build a shared DAG and time one parallel mark phase over it"
	if multi {
		use = "mt-trace"
		short = "mt-trace is trace with an explicit worker count override"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if multi && threads > 0 {
				v.Set("n_gcthreads", threads)
			}
			rt, err := newBenchRuntime(v, getLog())
			if err != nil {
				return err
			}
			defer rt.Close()
			m := rt.NewMutator()
			defer m.Drop()

			all := buildDAG(m, nodes)
			rt.Roots().SetRoots(m.ID(), []address.ObjectReference{all[len(all)-1]})

			start := time.Now()
			rt.TriggerGC()
			m.YieldpointSlow()
			elapsed := time.Since(start)

			marked := 0
			rt.ImmixSpace().ForEachMarked(func(address.Address) bool { marked++; return true })
			fmt.Printf("%s: %d nodes, %d marked, cycle took %v\n", use, nodes, marked, elapsed)
			return nil
		},
	}
	cmd.Flags().IntVar(&nodes, "nodes", 10000, "number of DAG nodes to build before tracing")
	if multi {
		cmd.Flags().IntVar(&threads, "threads", 8, "override N_GCTHREADS for this run")
	}
	bindHeapFlags(cmd, v)
	return cmd
}
