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

// Package testutil provides test doubles for the request layer.
package testutil

import (
	"errors"
	"sync"

	"github.com/jeremyhahn/go-shw/pkg/chain"
)

// ErrInjected is returned by a FaultAllocator at its failure point.
var ErrInjected = errors.New("testutil: injected allocation failure")

// FaultAllocator wraps chain.HeapAllocator, fails the Nth allocation and
// counts outstanding allocations of every kind.
type FaultAllocator struct {
	heap *chain.HeapAllocator

	mu      sync.Mutex
	failAt  int
	allocs  int
	buffers int
	links   int
	descs   int
	heads   int
	dirty   int
}

// NewFaultAllocator returns an allocator that fails its failAt-th
// allocation (1-based). A failAt of zero never fails.
func NewFaultAllocator(failAt int) *FaultAllocator {
	return &FaultAllocator{heap: chain.NewHeapAllocator(), failAt: failAt}
}

// FailAt changes the failure point and resets the allocation count.
func (a *FaultAllocator) FailAt(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failAt = n
	a.allocs = 0
}

// Allocs returns the number of allocation attempts since the last FailAt.
func (a *FaultAllocator) Allocs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocs
}

// Outstanding returns the number of allocations not yet freed.
func (a *FaultAllocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffers + a.links + a.descs + a.heads
}

// Dirty returns the number of buffers freed without being zeroed first.
func (a *FaultAllocator) Dirty() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

func (a *FaultAllocator) next() error {
	a.allocs++
	if a.failAt > 0 && a.allocs == a.failAt {
		return ErrInjected
	}
	return nil
}

func (a *FaultAllocator) AllocBuffer(n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.next(); err != nil {
		return nil, err
	}
	a.buffers++
	return a.heap.AllocBuffer(n)
}

func (a *FaultAllocator) FreeBuffer(b []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range b {
		if c != 0 {
			a.dirty++
			break
		}
	}
	a.buffers--
	a.heap.FreeBuffer(b)
}

func (a *FaultAllocator) AllocLink() (*chain.Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.next(); err != nil {
		return nil, err
	}
	a.links++
	return a.heap.AllocLink()
}

func (a *FaultAllocator) FreeLink(l *chain.Link) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.links--
	a.heap.FreeLink(l)
}

func (a *FaultAllocator) AllocDescriptor() (*chain.Descriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.next(); err != nil {
		return nil, err
	}
	a.descs++
	return a.heap.AllocDescriptor()
}

func (a *FaultAllocator) FreeDescriptor(d *chain.Descriptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.descs--
	a.heap.FreeDescriptor(d)
}

func (a *FaultAllocator) AllocHead() (*chain.Head, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.next(); err != nil {
		return nil, err
	}
	a.heads++
	return a.heap.AllocHead()
}

func (a *FaultAllocator) FreeHead(h *chain.Head) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heads--
	a.heap.FreeHead(h)
}
