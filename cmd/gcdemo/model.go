// Copyright 2026 The immixgc Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import "immixgc/address"

// nodeFields is the number of outgoing reference slots each benchmark
// node carries: two (left/right) is enough to build linked lists
// (right only), binary trees (left and right) and shared DAGs.
const nodeFields = 2

// nodeSize is the allocation size in bytes for one benchmark node: two
// 8-byte reference slots, no extra header. Kept well under
// immix.MaxObjectSize so every benchmark node is an Immix allocation
// rather than a free-list one.
const nodeSize = nodeFields * 8

// nodeModel is the objectmodel.Model every gcdemo subcommand registers
// with the runtime: a fixed two-slot pointer layout, the demo CLI's
// concrete stand-in for an embedder-supplied object model.
type nodeModel struct{}

func (nodeModel) ScanReferences(obj address.ObjectReference, fn func(address.ObjectReference)) {
	base := obj.ToAddress()
	for i := 0; i < nodeFields; i++ {
		slot := address.Offset[address.ObjectReference](base, int64(i))
		fn(address.Load[address.ObjectReference](slot))
	}
}

func setLeft(obj address.ObjectReference, child address.ObjectReference) {
	address.Store(obj.ToAddress(), child)
}

func setRight(obj address.ObjectReference, child address.ObjectReference) {
	slot := address.Offset[address.ObjectReference](obj.ToAddress(), 1)
	address.Store(slot, child)
}

func getLeft(obj address.ObjectReference) address.ObjectReference {
	return address.Load[address.ObjectReference](obj.ToAddress())
}

func getRight(obj address.ObjectReference) address.ObjectReference {
	slot := address.Offset[address.ObjectReference](obj.ToAddress(), 1)
	return address.Load[address.ObjectReference](slot)
}
