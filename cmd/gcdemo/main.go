// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command gcdemo is the benchmark and inspection harness for the
// collector: plumbing around the core packages, not part of their
// behavioral contract.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var verbose bool

	root := &cobra.Command{
		Use:   "gcdemo",
		Short: "benchmark and inspection harness for the immixgc collector",
		Long: `gcdemo exercises the Immix/free-list collector through its
embedding API (package gcvm): exhaust, initobj, gcbench, mt-gcbench,
mark, trace and mt-trace each stress one allocation or tracing path,
and inspect opens a REPL over a sample heap.`,
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug-level collector logging")

	// getLog is resolved inside each subcommand's RunE, not here: cobra
	// parses --verbose only after this function returns, so building the
	// logger eagerly would always see the flag's zero value.
	getLog := func() *zap.Logger {
		cfg := zap.NewDevelopmentConfig()
		if !verbose {
			cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		}
		log, err := cfg.Build()
		if err != nil {
			log = zap.NewNop()
		}
		return log
	}

	root.AddCommand(
		newInitObjCmd(v, getLog),
		newExhaustCmd(v, getLog),
		newGCBenchCmd(v, getLog, false),
		newGCBenchCmd(v, getLog, true),
		newMarkCmd(v, getLog),
		newTraceCmd(v, getLog, false),
		newTraceCmd(v, getLog, true),
		newInspectCmd(v, getLog),
	)
	root.SetHelpTemplate(root.HelpTemplate() + "\nrun \"gcdemo help\" for this message\n")
	return root
}
