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
	"fmt"
	"unsafe"

	"github.com/jeremyhahn/go-shw/pkg/types"
)

// DefaultBurst is the DMA burst width of the accelerator in bytes.
const DefaultBurst = 4

// Align reworks the input operands of a built chain for the accelerator's
// DMA engine, which flushes its read FIFO on the first burst that fits and
// can drop the tail of a transfer that neither starts nor ends on a burst
// boundary.
//
// For every read-only link chain, a trailing data segment whose address or
// length is not a multiple of burst is split in two: the last segment
// starts on a burst boundary and holds at least one byte, and the segment
// before it ends on that boundary. Data is never moved or altered. Slot
// links and engine-written chains are left alone.
//
// burst must be a power of two. On allocation failure the chain is left
// consistent and the caller is expected to destroy it.
func Align(h *Head, burst int) error {
	if burst <= 1 {
		return nil
	}
	if burst&(burst-1) != 0 {
		return fmt.Errorf("%w: burst width %d is not a power of two", types.ErrInternal, burst)
	}
	for d := h.First; d != nil; d = d.Next {
		for _, l := range []*Link{d.Link1, d.Link2} {
			if err := alignTail(h, l, burst); err != nil {
				return err
			}
		}
	}
	return nil
}

func alignTail(h *Head, first *Link, burst int) error {
	if first == nil || first.Writable {
		return nil
	}
	tail := first.Last()
	if tail.Slot != nil || len(tail.Data) == 0 {
		return nil
	}
	start := address(tail.Data)
	n := uintptr(len(tail.Data))
	mask := uintptr(burst - 1)
	if start&mask == 0 && n&mask == 0 {
		return nil
	}
	split := (start + n - 1) &^ mask
	if split <= start {
		// The whole segment sits inside a single burst window.
		return nil
	}
	rest, err := h.alloc.AllocLink()
	if err != nil || rest == nil {
		return fmt.Errorf("%w: alignment link", types.ErrNoMemory)
	}
	h.links = append(h.links, rest)

	cut := int(split - start)
	rest.Data = tail.Data[cut:]
	rest.Ownership = Borrowed
	rest.Writable = tail.Writable
	tail.Data = tail.Data[:cut:cut]
	tail.Next = rest
	return nil
}

// address returns the start address of b for alignment arithmetic.
func address(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
