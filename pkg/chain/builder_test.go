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

package chain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shw/internal/testutil"
	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/keystore"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

func TestBuilder_Links(t *testing.T) {
	b := chain.NewBuilder(chain.NewHeapAllocator(), nil)
	defer b.Abort()

	in, err := b.Input([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, chain.Borrowed, in.Ownership)
	assert.False(t, in.Writable)

	out, err := b.Output(make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, chain.OutputTarget, out.Ownership)
	assert.True(t, out.Writable)

	none, err := b.Input(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
	none, err = b.Output(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	s, err := b.Scratch(8, true)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), s.Data)
	assert.Equal(t, chain.Owned, s.Ownership)

	_, err = b.Scratch(0, true)
	assert.ErrorIs(t, err, types.ErrBadLength)

	src := []byte{1, 2, 3}
	c, err := b.Copy(src)
	require.NoError(t, err)
	src[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, c.Data, "Copy must not alias the caller's buffer")

	r, err := b.Ref(s, false)
	require.NoError(t, err)
	assert.Equal(t, chain.Borrowed, r.Ownership)
	assert.Same(t, &s.Data[0], &r.Data[0])

	joined := chain.Append(in, nil, c, r)
	assert.Equal(t, 3, chain.Segments(joined))
	assert.Equal(t, 14, chain.ChainLen(joined))
	assert.Same(t, r, joined.Last())
}

func TestBuilder_KeyLinks(t *testing.T) {
	store, err := keystore.NewSlotStore(&keystore.Config{Slots: 2})
	require.NoError(t, err)
	b := chain.NewBuilder(chain.NewHeapAllocator(), nil)
	defer b.Abort()

	_, err = b.Key(nil, store)
	assert.ErrorIs(t, err, types.ErrKeyNotPresent)
	_, err = b.Key(types.NewKeyObject(types.KeyAlgAES, 1), store)
	assert.ErrorIs(t, err, types.ErrKeyNotPresent)

	raw := types.NewKeyObject(types.KeyAlgDES, 1)
	require.NoError(t, raw.SetKey([]byte("8bytekey")))
	l, err := b.Key(raw, store)
	require.NoError(t, err)
	assert.False(t, l.IsSlot())
	assert.Equal(t, []byte("8bytekey"), l.Data)

	h, err := store.Allocate(1, 16)
	require.NoError(t, err)
	est := types.NewKeyObject(types.KeyAlgAES, 1)
	est.Established(h, 16)
	l, err = b.Key(est, store)
	require.NoError(t, err)
	require.True(t, l.IsSlot())
	assert.Equal(t, h, l.Slot.Handle)
	assert.Equal(t, 16, l.Len())
	assert.False(t, l.Writable)

	_, err = b.Slot(nil, 1, h, 16, true)
	assert.ErrorIs(t, err, types.ErrBadContext)
	_, err = b.Ref(l, false)
	assert.ErrorIs(t, err, types.ErrInternal)
}

func TestBuilder_Build(t *testing.T) {
	uc := types.NewUserContext(types.UserFlagBlocking, 0)
	b := chain.NewBuilder(chain.NewHeapAllocator(), uc)

	out, err := b.Output(make([]byte, 8))
	require.NoError(t, err)
	require.NoError(t, b.Add(chain.Header{Opcode: chain.OpRNG}, nil, out))
	require.NoError(t, b.Add(chain.Header{Opcode: chain.OpRNG}, nil, nil))

	h, err := b.Build()
	require.NoError(t, err)
	assert.Same(t, uc, h.User)
	assert.Equal(t, 2, h.Descriptors())
	assert.Same(t, out, h.First.Link2)

	_, err = b.Build()
	assert.ErrorIs(t, err, types.ErrInternal)
	assert.ErrorIs(t, b.Add(chain.Header{}, nil, nil), types.ErrInternal)

	b.Abort()
	assert.False(t, h.Destroyed(), "Abort after Build leaves the chain alone")
	h.Destroy()
	assert.True(t, h.Destroyed())
	h.Destroy()
}

func TestBuilder_EmptyChain(t *testing.T) {
	a := testutil.NewFaultAllocator(0)
	b := chain.NewBuilder(a, nil)
	_, err := b.Input([]byte("x"))
	require.NoError(t, err)
	_, err = b.Build()
	assert.ErrorIs(t, err, types.ErrInternal)
	assert.Zero(t, a.Outstanding())
}

func TestBuilder_FailureIsSticky(t *testing.T) {
	a := testutil.NewFaultAllocator(2)
	b := chain.NewBuilder(a, nil)

	_, err := b.Scratch(4, false)
	assert.ErrorIs(t, err, types.ErrNoMemory)
	assert.Zero(t, a.Outstanding())

	_, err = b.Input([]byte("later"))
	assert.ErrorIs(t, err, types.ErrNoMemory)
	assert.ErrorIs(t, b.Add(chain.Header{Opcode: chain.OpRNG}, nil, nil), types.ErrNoMemory)
	_, err = b.Build()
	assert.ErrorIs(t, err, types.ErrNoMemory)
	assert.ErrorIs(t, b.Err(), types.ErrNoMemory)
	assert.Equal(t, 2, a.Allocs(), "no allocation is attempted after a failure")
}

func TestBuilder_AbortZeroesScratch(t *testing.T) {
	a := testutil.NewFaultAllocator(0)
	b := chain.NewBuilder(a, nil)
	s, err := b.Scratch(16, true)
	require.NoError(t, err)
	copy(s.Data, "sensitive bytes!")
	require.NoError(t, b.Add(chain.Header{Opcode: chain.OpRNG}, nil, s))

	b.Abort()
	assert.Zero(t, a.Outstanding())
	assert.Zero(t, a.Dirty())
}

func TestHead_Complete(t *testing.T) {
	newHead := func(t *testing.T) *chain.Head {
		b := chain.NewBuilder(chain.NewHeapAllocator(), nil)
		require.NoError(t, b.Add(chain.Header{Opcode: chain.OpRNG}, nil, nil))
		h, err := b.Build()
		require.NoError(t, err)
		t.Cleanup(h.Destroy)
		return h
	}

	t.Run("check mismatch wipes", func(t *testing.T) {
		h := newHead(t)
		out := []byte("plaintext")
		ran := false
		h.Check = &chain.Check{Computed: []byte{1, 2}, Received: []byte{1, 3}, Wipe: [][]byte{out}}
		h.Done = func() error { ran = true; return nil }
		assert.ErrorIs(t, h.Complete(), types.ErrAuthFailed)
		assert.Equal(t, make([]byte, 9), out)
		assert.False(t, ran)
	})

	t.Run("check match runs done", func(t *testing.T) {
		h := newHead(t)
		h.Check = &chain.Check{Computed: []byte{1, 2}, Received: []byte{1, 2}}
		h.Done = func() error { return types.ErrBadLength }
		assert.ErrorIs(t, h.Complete(), types.ErrBadLength)
	})

	t.Run("executor status wins", func(t *testing.T) {
		h := newHead(t)
		h.Status = types.ErrBadMode
		h.Check = &chain.Check{Computed: []byte{1}, Received: []byte{2}}
		assert.ErrorIs(t, h.Complete(), types.ErrBadMode)
	})
}
