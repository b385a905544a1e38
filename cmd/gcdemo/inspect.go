// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"immixgc/address"
	"immixgc/gcvm"
)

// newInspectCmd opens an interactive REPL over a freshly built sample
// heap, walking the live object graph via immix.Space.ForEachMarked
// and losp.Space.String.
func newInspectCmd(v *viper.Viper, getLog func() *zap.Logger) *cobra.Command {
	var seedNodes int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "build a sample heap and open a REPL for walking its live objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newBenchRuntime(v, getLog())
			if err != nil {
				return err
			}
			defer rt.Close()
			m := rt.NewMutator()
			defer m.Drop()

			head := buildList(m, seedNodes)
			rt.Roots().SetRoots(m.ID(), []address.ObjectReference{head})

			return runInspectREPL(rt, m)
		},
	}
	cmd.Flags().IntVar(&seedNodes, "seed-nodes", 256, "length of the sample linked list to build before opening the REPL")
	bindHeapFlags(cmd, v)
	return cmd
}

func runInspectREPL(rt *gcvm.Runtime, m *gcvm.Mutator) error {
	rl, err := readline.New("gcdemo> ")
	if err != nil {
		return fmt.Errorf("gcdemo: inspect: %w", err)
	}
	defer rl.Close()

	fmt.Println(`gcdemo inspect: type "help" for commands, "quit" to exit`)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			printInspectHelp()
		case "quit", "exit":
			return nil
		case "stats":
			printStats(rt)
		case "lospace":
			fmt.Println(rt.LOSpace().String())
		case "gc":
			rt.TriggerGC()
			m.YieldpointSlow()
			fmt.Println("gc cycle complete")
		case "marked":
			printMarked(rt, fields[1:])
		case "walk":
			walkObjects(rt, fields[1:])
		default:
			fmt.Printf("unknown command %q; type \"help\" for a list\n", fields[0])
		}
	}
}

func printInspectHelp() {
	fmt.Println(`commands:
  stats            print Immix block occupancy and free-list usage
  lospace          print the free-list space's node dump
  marked [limit]   list up to limit (default 20) currently marked object addresses
  walk <addr> [n]  follow right pointers from a marked object, printing both slots
  gc               request a collection cycle
  quit             leave the REPL`)
}

func printStats(rt *gcvm.Runtime) {
	fmt.Printf("immix: %+v\n", rt.ImmixSpace().Stats())
	fmt.Printf("losp:  %+v\n", rt.LOSpace().Stats())
}

func printMarked(rt *gcvm.Runtime, args []string) {
	limit := 20
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			limit = n
		}
	}
	count := 0
	rt.ImmixSpace().ForEachMarked(func(a address.Address) bool {
		fmt.Println(" ", a)
		count++
		return count < limit
	})
	if count == 0 {
		fmt.Println("(no marked objects; run \"gc\" after publishing roots)")
	}
}

// walkObjects follows right pointers from a marked object, printing
// each node's two reference slots. Only marked addresses are accepted:
// dereferencing an arbitrary address would read unowned memory.
func walkObjects(rt *gcvm.Runtime, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: walk <addr> [n]")
		return
	}
	raw, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		fmt.Printf("bad address %q: %v\n", args[0], err)
		return
	}
	limit := 10
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			limit = n
		}
	}
	cur := address.Address(raw).ToObjectReference()
	for i := 0; i < limit && !cur.IsNull(); i++ {
		if !rt.ImmixSpace().Contains(cur.ToAddress()) || !rt.ImmixSpace().IsMarked(cur.ToAddress()) {
			fmt.Printf("%v is not a marked Immix object; stopping\n", cur)
			return
		}
		fmt.Printf("  %v  left=%v right=%v\n", cur, getLeft(cur), getRight(cur))
		cur = getRight(cur)
	}
}
