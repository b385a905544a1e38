// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package immix

import (
	"unsafe"

	"immixgc/address"
)

// reserveMemory falls back to a plain heap-backed byte slice on
// platforms without an anonymous-mmap syscall family (e.g. Windows).
func reserveMemory(n int64) (base address.Address, unmap func()) {
	data := make([]byte, n)
	base = address.FromPointer(unsafe.Pointer(&data[0]))
	return base, func() {}
}
