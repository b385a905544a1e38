// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package immix

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"immixgc/address"
)

// reserveMemory reserves an anonymous, zero-filled mapping of n bytes
// for the Immix space's backing store. A private mapping keeps the heap
// out of the Go runtime's allocator and gives it a stable base address
// for the lifetime of the space.
func reserveMemory(n int64) (base address.Address, unmap func()) {
	data, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		panic("immix: mmap failed: " + err.Error())
	}
	base = address.FromPointer(unsafe.Pointer(&data[0]))
	return base, func() {
		_ = unix.Munmap(data)
	}
}
