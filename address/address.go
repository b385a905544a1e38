// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package address provides the untyped pointer-sized primitives the rest
// of the collector builds on: a raw byte Address and the tagged
// ObjectReference handed out to mutators.
//
// These types carry no bounds checking and never allocate; callers on the
// allocation fast path and the tracer are expected to have already proven
// (by construction, or by a prior allocation) that the bytes in question
// are valid before calling Load, Store or Memset.
package address

import (
	"fmt"
	"unsafe"
)

// Address is an untyped pointer-sized integer interpreted as a byte
// address. The zero Address is the sentinel "null".
type Address uintptr

// Null is the sentinel invalid address.
const Null Address = 0

// IsZero reports whether a is the null address.
func (a Address) IsZero() bool {
	return a == 0
}

// Add returns a plus n bytes.
func (a Address) Add(n int64) Address {
	return Address(int64(a) + n)
}

// Sub returns a minus n bytes.
func (a Address) Sub(n int64) Address {
	return Address(int64(a) - n)
}

// Offset returns a offset by n*sizeof(T), where n may be negative.
func Offset[T any](a Address, n int64) Address {
	var zero T
	return a.Add(n * int64(unsafe.Sizeof(zero)))
}

// Diff returns the unsigned distance from other to a. The caller must
// guarantee a >= other; Diff panics if a < other.
func (a Address) Diff(other Address) uintptr {
	if a < other {
		panic("address: Diff requires a >= other")
	}
	return uintptr(a - other)
}

// AlignUp rounds a up to the next multiple of align, which must be a
// power of two. This is a precondition: AlignUp does not validate it.
func (a Address) AlignUp(align uintptr) Address {
	return Address((uintptr(a) + align - 1) &^ (align - 1))
}

// AlignDown rounds a down to the previous multiple of align, which must
// be a power of two.
func (a Address) AlignDown(align uintptr) Address {
	return Address(uintptr(a) &^ (align - 1))
}

// IsAligned reports whether a is a multiple of align.
func (a Address) IsAligned(align uintptr) bool {
	return uintptr(a)%align == 0
}

// Load reads a value of type T from a. Unchecked: the caller guarantees
// aliasing and liveness.
func Load[T any](a Address) T {
	return *(*T)(unsafe.Pointer(a))
}

// Store writes v to a. Unchecked: the caller guarantees aliasing and
// liveness.
func Store[T any](a Address, v T) {
	*(*T)(unsafe.Pointer(a)) = v
}

// Memset writes the byte c into the n bytes starting at a.
func (a Address) Memset(c byte, n uintptr) {
	s := unsafe.Slice((*byte)(unsafe.Pointer(a)), n)
	for i := range s {
		s[i] = c
	}
}

// FromPointer converts a Go pointer into an Address.
func FromPointer(p unsafe.Pointer) Address {
	return Address(uintptr(p))
}

// Pointer converts a back to an unsafe.Pointer.
func (a Address) Pointer() unsafe.Pointer {
	return unsafe.Pointer(a)
}

// ToObjectReference transmutes a into an ObjectReference with no checks.
func (a Address) ToObjectReference() ObjectReference {
	return ObjectReference(a)
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uintptr(a))
}

// ObjectReference is a pointer-sized value referencing an object's base
// address. During mutator execution every reachable ObjectReference must
// refer to a live, allocated object inside the Immix space or the
// free-list space; that invariant is established and maintained outside
// this package.
type ObjectReference Address

// Nil is the null object reference.
const Nil ObjectReference = 0

// ToAddress converts r back to its base Address.
func (r ObjectReference) ToAddress() Address {
	return Address(r)
}

// IsNull reports whether r is the null reference.
func (r ObjectReference) IsNull() bool {
	return r == 0
}

func (r ObjectReference) String() string {
	return fmt.Sprintf("0x%x", uintptr(r))
}
