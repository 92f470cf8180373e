// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shw.
//
// go-shw is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package chain models the descriptor chains consumed by the cryptographic
// accelerator and provides a Builder that assembles them with all-or-nothing
// allocation semantics.
//
// A chain is a singly linked list of Descriptors. Each Descriptor carries a
// Header and up to two operand chains of Links. A Link references either a
// data buffer or a keystore slot, and Links chain together for
// scatter-gather transfers. The first Descriptor hangs off a Head, which
// also owns every Link, Descriptor and scratch buffer allocated for the
// request and releases them together.
package chain

import (
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Ownership records who is responsible for the memory a Link references.
type Ownership uint8

const (
	// Borrowed data belongs to the caller and is read by the engine.
	Borrowed Ownership = iota

	// Owned data was allocated for the request. It is zeroed and released
	// when the chain is destroyed.
	Owned

	// OutputTarget data belongs to the caller and is written by the engine.
	OutputTarget
)

// String returns the ownership name.
func (o Ownership) String() string {
	switch o {
	case Borrowed:
		return "borrowed"
	case Owned:
		return "owned"
	case OutputTarget:
		return "output"
	default:
		return "unknown"
	}
}

// SlotRef addresses key material inside a keystore.
type SlotRef struct {
	Store  types.Keystore
	Owner  types.OwnerID
	Handle types.Handle
	Length int
}

// Link references one segment of an operand: either Data or Slot is set.
type Link struct {
	Data      []byte
	Slot      *SlotRef
	Ownership Ownership

	// Writable marks segments the engine writes into.
	Writable bool

	Next *Link
}

// Len returns the number of bytes the segment covers.
func (l *Link) Len() int {
	if l.Slot != nil {
		return l.Slot.Length
	}
	return len(l.Data)
}

// IsSlot reports whether the segment references a keystore slot.
func (l *Link) IsSlot() bool {
	return l.Slot != nil
}

// Last returns the final segment of the chain starting at l.
func (l *Link) Last() *Link {
	for l != nil && l.Next != nil {
		l = l.Next
	}
	return l
}

// ChainLen returns the total length of the chain starting at l.
func ChainLen(l *Link) int {
	n := 0
	for ; l != nil; l = l.Next {
		n += l.Len()
	}
	return n
}

// Segments returns the number of links in the chain starting at l.
func Segments(l *Link) int {
	n := 0
	for ; l != nil; l = l.Next {
		n++
	}
	return n
}

func (l *Link) reset() {
	*l = Link{}
}
