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

import "sync"

// Allocator supplies the memory a chain is built from. Platforms with
// DMA-reachable memory regions provide their own implementation; the
// protocol engines never allocate chain memory any other way.
//
// Buffers passed to FreeBuffer have already been zeroed. Links,
// Descriptors and Heads passed to the Free methods have already been reset.
type Allocator interface {
	AllocBuffer(n int) ([]byte, error)
	FreeBuffer(b []byte)
	AllocLink() (*Link, error)
	FreeLink(l *Link)
	AllocDescriptor() (*Descriptor, error)
	FreeDescriptor(d *Descriptor)
	AllocHead() (*Head, error)
	FreeHead(h *Head)
}

// HeapAllocator allocates from the Go heap and recycles Links and
// Descriptors through pools. It never fails.
type HeapAllocator struct {
	links sync.Pool
	descs sync.Pool
}

// NewHeapAllocator returns a ready-to-use heap allocator.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{
		links: sync.Pool{New: func() any { return new(Link) }},
		descs: sync.Pool{New: func() any { return new(Descriptor) }},
	}
}

// AllocBuffer returns a zeroed buffer of n bytes.
func (a *HeapAllocator) AllocBuffer(n int) ([]byte, error) {
	return make([]byte, n), nil
}

// FreeBuffer drops the buffer; it has already been zeroed.
func (a *HeapAllocator) FreeBuffer(b []byte) {}

// AllocLink returns an empty Link.
func (a *HeapAllocator) AllocLink() (*Link, error) {
	return a.links.Get().(*Link), nil
}

// FreeLink returns l to the pool.
func (a *HeapAllocator) FreeLink(l *Link) {
	a.links.Put(l)
}

// AllocDescriptor returns an empty Descriptor.
func (a *HeapAllocator) AllocDescriptor() (*Descriptor, error) {
	return a.descs.Get().(*Descriptor), nil
}

// FreeDescriptor returns d to the pool.
func (a *HeapAllocator) FreeDescriptor(d *Descriptor) {
	a.descs.Put(d)
}

// AllocHead returns an empty Head. Heads are not pooled: a destroyed Head
// must keep reporting Destroyed to anyone still holding it.
func (a *HeapAllocator) AllocHead() (*Head, error) {
	return &Head{}, nil
}

// FreeHead drops the Head.
func (a *HeapAllocator) FreeHead(h *Head) {}
