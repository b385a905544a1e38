// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// A 64 MiB default heap split 2:1 between the Immix space and the
// free-list space, with 8 default trace worker threads.
const (
	defaultHeapMB          = 64
	defaultImmixSpaceRatio = 2.0 / 3.0
	defaultLOSpaceRatio    = 1.0 / 3.0
	defaultGCThreads       = 8
)

// heapConfig is the parsed form of the environment/flag surface:
// HEAP_SIZE, N_GCTHREADS, IMMIX_SPACE_RATIO, LO_SPACE_RATIO.
type heapConfig struct {
	ImmixSize int64
	LOSize    int64
	GCThreads int
}

// bindHeapFlags registers the flags every benchmark subcommand shares
// and binds them to viper, which in turn binds the matching environment
// variables. Binding happens in PreRunE rather than at registration
// time: the subcommands share one viper instance, and binding a key
// eagerly would leave it pointing at whichever command registered last.
func bindHeapFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().String("heap-size", fmt.Sprintf("%dM", defaultHeapMB), "total heap size, suffix M for megabytes (HEAP_SIZE)")
	cmd.Flags().Float64("immix-ratio", defaultImmixSpaceRatio, "fraction of the heap given to the Immix space (IMMIX_SPACE_RATIO)")
	cmd.Flags().Float64("lo-ratio", defaultLOSpaceRatio, "fraction of the heap given to the free-list space (LO_SPACE_RATIO)")
	cmd.Flags().Int("gc-threads", defaultGCThreads, "parallel trace worker count (N_GCTHREADS)")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		v.BindPFlag("heap_size", cmd.Flags().Lookup("heap-size"))
		v.BindPFlag("immix_space_ratio", cmd.Flags().Lookup("immix-ratio"))
		v.BindPFlag("lo_space_ratio", cmd.Flags().Lookup("lo-ratio"))
		v.BindPFlag("n_gcthreads", cmd.Flags().Lookup("gc-threads"))
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
		return nil
	}
}

// loadHeapConfig reads the bound flags/env and splits HEAP_SIZE into
// Immix/free-list byte counts by the configured ratios.
func loadHeapConfig(v *viper.Viper) (heapConfig, error) {
	total, err := parseHeapSize(v.GetString("heap_size"))
	if err != nil {
		return heapConfig{}, err
	}
	immixRatio := v.GetFloat64("immix_space_ratio")
	loRatio := v.GetFloat64("lo_space_ratio")
	if immixRatio <= 0 || loRatio <= 0 {
		return heapConfig{}, fmt.Errorf("gcdemo: space ratios must be positive, got immix=%v lo=%v", immixRatio, loRatio)
	}

	threads := v.GetInt("n_gcthreads")
	if threads <= 0 {
		threads = defaultGCThreads
	}

	return heapConfig{
		ImmixSize: int64(float64(total) * immixRatio / (immixRatio + loRatio)),
		LOSize:    int64(float64(total) * loRatio / (immixRatio + loRatio)),
		GCThreads: threads,
	}, nil
}

// parseHeapSize parses a HEAP_SIZE value like "64M" into a byte count.
// Only the M (megabyte) suffix the original program supports is
// accepted, in either case; a bare integer is treated as already-bytes.
func parseHeapSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("gcdemo: HEAP_SIZE must not be empty")
	}
	if suffix := s[len(s)-1]; suffix == 'M' || suffix == 'm' {
		n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("gcdemo: invalid HEAP_SIZE %q: %w", s, err)
		}
		return n * 1024 * 1024, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gcdemo: invalid HEAP_SIZE %q: %w", s, err)
	}
	return n, nil
}
