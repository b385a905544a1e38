// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package objectmodel defines the narrow contract the tracer needs
// from an embedder's object layout: given a live object's base
// address, yield its outgoing reference fields. The collector depends
// only on this interface; it never interprets object bytes itself.
package objectmodel

import "immixgc/address"

// Model is implemented by the embedder to expose an object's outgoing
// reference slots. ScanReferences must call fn once for every
// reference field in obj, including null ones; filtering nulls is the
// tracer's job, not the model's.
type Model interface {
	// ScanReferences calls fn with every outgoing reference held by
	// obj, in any order. Precondition: obj is live and was most
	// recently produced by a successful allocation.
	ScanReferences(obj address.ObjectReference, fn func(address.ObjectReference))
}

// FieldModel is a reference implementation of Model for objects laid
// out as a fixed-size header (ignored by this model) followed by a
// packed array of reference-sized fields. There is no type metadata to
// consult: the caller supplies the field count directly.
type FieldModel struct {
	// HeaderSize is the number of leading bytes with no reference
	// fields (e.g. a type tag or length header).
	HeaderSize uintptr
	// FieldCount is the number of address.ObjectReference-sized slots
	// following the header.
	FieldCount int
}

// ScanReferences reads m.FieldCount consecutive ObjectReference values
// starting HeaderSize bytes into obj.
func (m FieldModel) ScanReferences(obj address.ObjectReference, fn func(address.ObjectReference)) {
	base := obj.ToAddress().Add(int64(m.HeaderSize))
	for i := 0; i < m.FieldCount; i++ {
		slot := address.Offset[address.ObjectReference](base, int64(i))
		fn(address.Load[address.ObjectReference](slot))
	}
}
