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

package chain

import (
	"bytes"

	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Descriptor is one accelerator instruction.
type Descriptor struct {
	Header Header
	Link1  *Link
	Link2  *Link
	Next   *Descriptor
}

func (d *Descriptor) reset() {
	*d = Descriptor{}
}

// Check is a byte-wise comparison performed after the hardware finishes.
// When Computed and Received differ, every buffer in Wipe is zeroed and the
// request fails with types.ErrAuthFailed.
type Check struct {
	Computed []byte
	Received []byte
	Wipe     [][]byte
}

// Head is the first element of a chain. It carries the submitting user
// context, the completion status, any deferred check, and the arena of
// everything allocated for the request.
type Head struct {
	// ID identifies the request. It is unique per chain.
	ID string

	// Correlation groups the chains of one entry point call, or of every
	// call made with the same correlation-tagged context.
	Correlation string

	// User is the submitting context.
	User *types.UserContext

	// First is the first descriptor of the chain.
	First *Descriptor

	// Status is set by the executor when the chain completes.
	Status error

	// Retain keeps the chain alive after its result has been consumed.
	// The caller must then call Destroy.
	Retain bool

	// Check, when set, is evaluated once the chain completes.
	Check *Check

	// Done, when set, runs after a successful chain and Check. It is used
	// for post-processing that only the request layer can do.
	Done func() error

	alloc     Allocator
	links     []*Link
	descs     []*Descriptor
	bufs      [][]byte
	destroyed bool
}

// Descriptors returns the number of descriptors in the chain.
func (h *Head) Descriptors() int {
	n := 0
	for d := h.First; d != nil; d = d.Next {
		n++
	}
	return n
}

// Complete evaluates the deferred check and post-processing of a finished
// chain and returns the final status.
func (h *Head) Complete() error {
	if h.Status != nil {
		return h.Status
	}
	if c := h.Check; c != nil {
		// Byte-wise comparison; see DESIGN.md on timing behaviour.
		if !bytes.Equal(c.Computed, c.Received) {
			for _, w := range c.Wipe {
				clear(w)
			}
			h.Status = types.ErrAuthFailed
			return h.Status
		}
	}
	if h.Done != nil {
		h.Status = h.Done()
	}
	return h.Status
}

// Destroy zeroes every owned buffer and returns every Link, Descriptor and
// the Head itself to the allocator. It is safe to call more than once.
func (h *Head) Destroy() {
	if h == nil || h.destroyed {
		return
	}
	alloc := h.alloc
	release(alloc, h.bufs, h.links, h.descs)
	*h = Head{destroyed: true}
	if alloc != nil {
		alloc.FreeHead(h)
	}
}

// Destroyed reports whether Destroy has run.
func (h *Head) Destroyed() bool {
	return h == nil || h.destroyed
}

func release(alloc Allocator, bufs [][]byte, links []*Link, descs []*Descriptor) {
	for _, b := range bufs {
		clear(b)
		if alloc != nil {
			alloc.FreeBuffer(b)
		}
	}
	for _, l := range links {
		l.reset()
		if alloc != nil {
			alloc.FreeLink(l)
		}
	}
	for _, d := range descs {
		d.reset()
		if alloc != nil {
			alloc.FreeDescriptor(d)
		}
	}
}
