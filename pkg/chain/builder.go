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

	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Builder assembles one request's chain. Every Link, Descriptor and scratch
// buffer it allocates is recorded, and the first allocation failure tears
// all of them down at once: owned buffers are zeroed, everything is handed
// back to the allocator, and the builder reports types.ErrNoMemory from then
// on. A failed or aborted builder never yields a chain.
//
// Typical use:
//
//	b := chain.NewBuilder(alloc, uc)
//	defer b.Abort()
//	in, err := b.Input(msg)
//	...
//	if err := b.Add(hdr, in, out); err != nil {
//	    return err
//	}
//	head, err := b.Build()
type Builder struct {
	alloc Allocator
	user  *types.UserContext

	head  *Head
	last  *Descriptor
	links []*Link
	descs []*Descriptor
	bufs  [][]byte

	err   error
	built bool
}

// NewBuilder returns a builder allocating from alloc for a request made
// through uc.
func NewBuilder(alloc Allocator, uc *types.UserContext) *Builder {
	return &Builder{alloc: alloc, user: uc}
}

// Err returns the builder's sticky error.
func (b *Builder) Err() error {
	return b.err
}

// fail tears down everything allocated so far and records err.
func (b *Builder) fail(err error) error {
	b.teardown()
	b.err = err
	return err
}

func (b *Builder) teardown() {
	release(b.alloc, b.bufs, b.links, b.descs)
	if b.head != nil {
		*b.head = Head{destroyed: true}
		b.alloc.FreeHead(b.head)
	}
	b.head, b.last = nil, nil
	b.links, b.descs, b.bufs = nil, nil, nil
}

func (b *Builder) usable() error {
	if b.err != nil {
		return b.err
	}
	if b.built {
		return fmt.Errorf("%w: builder already used", types.ErrInternal)
	}
	return nil
}

func (b *Builder) newLink() (*Link, error) {
	l, err := b.alloc.AllocLink()
	if err != nil || l == nil {
		return nil, b.fail(fmt.Errorf("%w: link", types.ErrNoMemory))
	}
	b.links = append(b.links, l)
	return l, nil
}

func (b *Builder) newBuffer(n int) ([]byte, error) {
	buf, err := b.alloc.AllocBuffer(n)
	if err != nil || len(buf) != n {
		return nil, b.fail(fmt.Errorf("%w: %d byte buffer", types.ErrNoMemory, n))
	}
	b.bufs = append(b.bufs, buf)
	return buf, nil
}

// Input returns a link reading the caller's data. An empty buffer yields a
// nil link, which descriptors treat as an absent operand.
func (b *Builder) Input(data []byte) (*Link, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	l, err := b.newLink()
	if err != nil {
		return nil, err
	}
	l.Data = data
	l.Ownership = Borrowed
	return l, nil
}

// Output returns a link the engine writes into the caller's buffer. An
// empty buffer yields a nil link.
func (b *Builder) Output(data []byte) (*Link, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	l, err := b.newLink()
	if err != nil {
		return nil, err
	}
	l.Data = data
	l.Ownership = OutputTarget
	l.Writable = true
	return l, nil
}

// Scratch returns a link over a new zeroed buffer of n bytes owned by the
// chain. Writable scratch links serve as discard sinks and intermediate
// results; read-only ones as padding.
func (b *Builder) Scratch(n int, writable bool) (*Link, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: scratch of %d bytes", types.ErrBadLength, n)
	}
	buf, err := b.newBuffer(n)
	if err != nil {
		return nil, err
	}
	l, err := b.newLink()
	if err != nil {
		return nil, err
	}
	l.Data = buf
	l.Ownership = Owned
	l.Writable = writable
	return l, nil
}

// Copy returns a read-only link over a chain-owned copy of data. It is used
// for values assembled by the request layer, such as encoded headers.
func (b *Builder) Copy(data []byte) (*Link, error) {
	if len(data) == 0 {
		if err := b.usable(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	l, err := b.Scratch(len(data), false)
	if err != nil {
		return nil, err
	}
	copy(l.Data, data)
	return l, nil
}

// Ref returns a second, borrowed link over a buffer already owned by the
// chain. The owning link remains responsible for releasing it.
func (b *Builder) Ref(owner *Link, writable bool) (*Link, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if owner == nil || owner.Slot != nil {
		return nil, fmt.Errorf("%w: reference to a non-data link", types.ErrInternal)
	}
	l, err := b.newLink()
	if err != nil {
		return nil, err
	}
	l.Data = owner.Data
	l.Ownership = Borrowed
	l.Writable = writable
	return l, nil
}

// Slot returns a link referencing a keystore slot. Writable slot links are
// loaded by the engine.
func (b *Builder) Slot(store types.Keystore, owner types.OwnerID, handle types.Handle, length int, writable bool) (*Link, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if store == nil || length <= 0 {
		return nil, fmt.Errorf("%w: slot reference", types.ErrBadContext)
	}
	l, err := b.newLink()
	if err != nil {
		return nil, err
	}
	l.Slot = &SlotRef{Store: store, Owner: owner, Handle: handle, Length: length}
	l.Ownership = Borrowed
	l.Writable = writable
	return l, nil
}

// Key returns a read-only link to a key's material: the raw bytes of a
// present key or the slot of an established one. Established keys without
// their own keystore resolve to fallback.
func (b *Builder) Key(key *types.KeyObject, fallback types.Keystore) (*Link, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	switch {
	case key == nil:
		return nil, types.ErrKeyNotPresent
	case key.IsEstablished():
		store := key.Keystore
		if store == nil {
			store = fallback
		}
		return b.Slot(store, key.Owner, key.Handle(), key.Length(), false)
	case key.IsPresent():
		return b.Input(key.Key())
	default:
		return nil, types.ErrKeyNotPresent
	}
}

// Append joins the given links into one scatter-gather chain and returns
// its first link. Nil links are skipped.
func Append(links ...*Link) *Link {
	var first, last *Link
	for _, l := range links {
		if l == nil {
			continue
		}
		if first == nil {
			first = l
		} else {
			last.Next = l
		}
		last = l.Last()
	}
	return first
}

// Add appends a descriptor with the given header and operands to the chain,
// allocating the Head on first use.
func (b *Builder) Add(hdr Header, link1, link2 *Link) error {
	if err := b.usable(); err != nil {
		return err
	}
	if b.head == nil {
		h, err := b.alloc.AllocHead()
		if err != nil || h == nil {
			return b.fail(fmt.Errorf("%w: head", types.ErrNoMemory))
		}
		b.head = h
	}
	d, err := b.alloc.AllocDescriptor()
	if err != nil || d == nil {
		return b.fail(fmt.Errorf("%w: descriptor", types.ErrNoMemory))
	}
	b.descs = append(b.descs, d)
	d.Header = hdr
	d.Link1 = link1
	d.Link2 = link2
	if b.last == nil {
		b.head.First = d
	} else {
		b.last.Next = d
	}
	b.last = d
	return nil
}

// Build finishes the chain and transfers ownership of everything allocated
// to the returned Head. The builder cannot be used afterwards.
func (b *Builder) Build() (*Head, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if b.head == nil {
		return nil, b.fail(fmt.Errorf("%w: empty chain", types.ErrInternal))
	}
	h := b.head
	h.User = b.user
	h.alloc = b.alloc
	h.links = b.links
	h.descs = b.descs
	h.bufs = b.bufs
	b.head, b.last = nil, nil
	b.links, b.descs, b.bufs = nil, nil, nil
	b.built = true
	return h, nil
}

// Abort releases everything allocated so far unless Build has succeeded.
// It is meant to be deferred.
func (b *Builder) Abort() {
	if b.built || b.err != nil {
		return
	}
	b.teardown()
	b.err = fmt.Errorf("%w: builder aborted", types.ErrInternal)
}
