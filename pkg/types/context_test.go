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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashContext_State(t *testing.T) {
	hc := NewHashContext(HashSHA1, HashFlagInit|HashFlagSave)
	assert.Len(t, hc.State(), 28)
	hc.SetFlags(HashFlagLoad | HashFlagFinalize)
	assert.Equal(t, HashFlagLoad|HashFlagFinalize, hc.Flags)
}

func TestHMACContext_SetFlagsKeepsPrecomputes(t *testing.T) {
	hc := NewHMACContext(HashSHA256, HMACFlagInit)
	hc.Flags |= HMACFlagPrecomputesPresent
	hc.SetFlags(HMACFlagLoad | HMACFlagFinalize)
	assert.Equal(t, HMACFlagLoad|HMACFlagFinalize|HMACFlagPrecomputesPresent, hc.Flags)

	fresh := NewHMACContext(HashMD5, 0)
	fresh.SetFlags(HMACFlagInit | HMACFlagPrecomputesPresent)
	assert.Zero(t, fresh.Flags&HMACFlagPrecomputesPresent, "callers cannot claim precomputes")
	assert.Len(t, fresh.InnerState(), 24)
	assert.Len(t, fresh.OuterState(), 24)
	assert.Len(t, fresh.OngoingState(), 24)
}

func TestSymContext(t *testing.T) {
	sc := NewSymContext(ModeCBC, SymFlagSave)
	require.NoError(t, sc.SetContext([]byte{1, 2, 3}))
	assert.Equal(t, SymFlagSave|SymFlagLoad, sc.Flags)
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, sc.State(KeyAlgDES))

	require.NoError(t, sc.SetContext([]byte{9}))
	assert.Equal(t, []byte{9, 0, 0, 0, 0, 0, 0, 0}, sc.State(KeyAlgDES), "SetContext clears stale bytes")

	assert.ErrorIs(t, sc.SetContext(make([]byte, MaxSymContextSize+1)), ErrBadLength)
	assert.Equal(t, 128, sc.Modulus())
	sc.CounterModulus = 32
	assert.Equal(t, 32, sc.Modulus())
}

func TestAuthContext_CCM(t *testing.T) {
	nonce := make([]byte, 13)
	ac, err := NewCCMContext(nonce, 16)
	require.NoError(t, err)
	assert.Equal(t, ModeCCM, ac.Mode)
	assert.Equal(t, 2, ac.LengthFieldSize())
	nonce[0] = 1
	assert.Zero(t, ac.Nonce[0], "nonce is copied")

	require.NoError(t, ac.SetCCM(make([]byte, 7), 4))
	assert.Equal(t, 8, ac.LengthFieldSize())

	for _, tc := range []struct{ nonce, mac int }{{6, 8}, {14, 8}, {13, 2}, {13, 18}, {13, 5}} {
		_, err := NewCCMContext(make([]byte, tc.nonce), tc.mac)
		assert.ErrorIs(t, err, ErrBadLength, "nonce=%d mac=%d", tc.nonce, tc.mac)
	}
}
