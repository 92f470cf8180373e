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

package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shw/pkg/types"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newSlotStore(t *testing.T, slots int) *SlotStore {
	t.Helper()
	s, err := NewSlotStore(&Config{Slots: slots, SlotSize: 32, DeviceSecret: testSecret})
	require.NoError(t, err)
	return s
}

func TestSlotStore_Lifecycle(t *testing.T) {
	s := newSlotStore(t, 2)

	h, err := s.Allocate(1, 16)
	require.NoError(t, err)
	assert.Equal(t, 1, s.InUse())

	size, err := s.SlotSize(1, h)
	require.NoError(t, err)
	assert.Equal(t, 16, size)

	data, err := s.Read(1, h)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), data, "new slots are zeroed")

	key := []byte("sixteen byte key")
	require.NoError(t, s.Load(1, h, key))
	data, err = s.Read(1, h)
	require.NoError(t, err)
	assert.Equal(t, key, data)

	data[0] = 'X'
	again, err := s.Read(1, h)
	require.NoError(t, err)
	assert.Equal(t, key, again, "Read returns a copy")

	assert.ErrorIs(t, s.Load(1, h, key[:8]), types.ErrBadLength)

	require.NoError(t, s.Deallocate(1, h))
	assert.Zero(t, s.InUse())
	assert.Equal(t, make([]byte, 32), s.slots[h-1].data, "deallocation zeroes the slot")
	_, err = s.Read(1, h)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestSlotStore_OwnerIsolation(t *testing.T) {
	s := newSlotStore(t, 2)
	h, err := s.Allocate(1, 16)
	require.NoError(t, err)

	_, err = s.Read(2, h)
	assert.ErrorIs(t, err, ErrOwnerMismatch)
	assert.ErrorIs(t, s.Load(2, h, make([]byte, 16)), ErrOwnerMismatch)
	assert.ErrorIs(t, s.Deallocate(2, h), ErrOwnerMismatch)
	assert.ErrorIs(t, s.EncryptInPlace(2, h), ErrOwnerMismatch)
	assert.Equal(t, 1, s.InUse())
}

func TestSlotStore_Exhaustion(t *testing.T) {
	s := newSlotStore(t, 2)
	_, err := s.Allocate(1, 8)
	require.NoError(t, err)
	_, err = s.Allocate(1, 8)
	require.NoError(t, err)
	_, err = s.Allocate(1, 8)
	assert.ErrorIs(t, err, types.ErrNoMemory)

	_, err = s.Allocate(1, 33)
	assert.ErrorIs(t, err, types.ErrBadLength)
	_, err = s.Allocate(1, 0)
	assert.ErrorIs(t, err, types.ErrBadLength)
	_, err = s.Read(1, 0)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = s.Read(1, 3)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestSlotStore_EncryptInPlace(t *testing.T) {
	s := newSlotStore(t, 4)
	plain := []byte("0123456789abcdef")

	h, err := s.Allocate(7, 16)
	require.NoError(t, err)
	require.NoError(t, s.Load(7, h, plain))
	require.NoError(t, s.EncryptInPlace(7, h))
	enc, err := s.Read(7, h)
	require.NoError(t, err)
	assert.NotEqual(t, plain, enc)

	// The same plaintext under another owner encrypts differently.
	h2, err := s.Allocate(8, 16)
	require.NoError(t, err)
	require.NoError(t, s.Load(8, h2, plain))
	require.NoError(t, s.EncryptInPlace(8, h2))
	other, err := s.Read(8, h2)
	require.NoError(t, err)
	assert.NotEqual(t, enc, other)

	require.NoError(t, s.DecryptInPlace(7, h))
	dec, err := s.Read(7, h)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)

	// Another device secret cannot reverse it.
	foreign, err := NewSlotStore(&Config{DeviceSecret: []byte("a different device secret value!")})
	require.NoError(t, err)
	fh, err := foreign.Allocate(7, 16)
	require.NoError(t, err)
	require.NoError(t, foreign.Load(7, fh, enc))
	require.NoError(t, foreign.DecryptInPlace(7, fh))
	fdec, err := foreign.Read(7, fh)
	require.NoError(t, err)
	assert.NotEqual(t, plain, fdec)

	odd, err := s.Allocate(7, 10)
	require.NoError(t, err)
	assert.ErrorIs(t, s.EncryptInPlace(7, odd), types.ErrBadLength)
}

func TestSlotStore_Config(t *testing.T) {
	_, err := NewSlotStore(&Config{DeviceSecret: []byte("short")})
	assert.ErrorIs(t, err, ErrWeakSecret)

	s, err := NewSlotStore(nil)
	require.NoError(t, err)
	assert.Len(t, s.slots, DefaultSlots)
	assert.Equal(t, DefaultSlotSize, s.slotSize)

	require.NoError(t, s.Close())
	_, err = s.Allocate(1, 16)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Read(1, 1)
	assert.ErrorIs(t, err, ErrClosed)
}
