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

package software

import (
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shw/pkg/types"
)

func TestARC4_MatchesStdlib(t *testing.T) {
	key := []byte("Secret")
	msg := []byte("Attack at dawn, then again at dusk.")

	ref, err := rc4.NewCipher(key)
	require.NoError(t, err)
	want := make([]byte, len(msg))
	ref.XORKeyStream(want, msg)

	c, err := newARC4(key)
	require.NoError(t, err)
	got := make([]byte, len(msg))
	c.xorKeyStream(got[:10], msg[:10])

	// Save and restore mid-stream.
	resumed, err := loadARC4(c.save())
	require.NoError(t, err)
	resumed.xorKeyStream(got[10:], msg[10:])
	assert.Equal(t, want, got)

	_, err = newARC4(nil)
	assert.ErrorIs(t, err, types.ErrBadKeyLength)
	_, err = loadARC4(make([]byte, 256))
	assert.ErrorIs(t, err, types.ErrBadContext)
}

func TestIncCounter(t *testing.T) {
	ctr := []byte{0, 0, 0x01, 0xff}
	incCounter(ctr, 8)
	assert.Equal(t, []byte{0, 0, 0x01, 0x00}, ctr, "8-bit counter wraps without carry")

	ctr = []byte{0, 0, 0x01, 0xff}
	incCounter(ctr, 16)
	assert.Equal(t, []byte{0, 0, 0x02, 0x00}, ctr)

	ctr = []byte{0xff, 0xff, 0xff, 0xff}
	incCounter(ctr, 128)
	assert.Equal(t, []byte{0, 0, 0, 0}, ctr)
}

func TestCheckParity(t *testing.T) {
	assert.NoError(t, checkParity([]byte{0x01, 0x02, 0x07, 0xfe}))
	assert.ErrorIs(t, checkParity([]byte{0x01, 0x03}), ErrKeyParity)
}

func TestHashContext_SaveLoad(t *testing.T) {
	refs := map[types.HashAlgorithm]func() hash.Hash{
		types.HashMD5:    md5.New,
		types.HashSHA1:   sha1.New,
		types.HashSHA224: sha256.New224,
		types.HashSHA256: sha256.New,
	}
	msg := make([]byte, 200)
	for i := range msg {
		msg[i] = byte(i * 3)
	}
	for alg, newRef := range refs {
		t.Run(alg.String(), func(t *testing.T) {
			h, err := newHash(alg)
			require.NoError(t, err)
			h.Write(msg[:128])

			ctx, err := saveContext(alg, h)
			require.NoError(t, err)
			assert.Len(t, ctx, alg.ContextSize())
			assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 128}, ctx[alg.StateSize():])

			resumed, err := loadContext(alg, ctx)
			require.NoError(t, err)
			resumed.Write(msg[128:])

			ref := newRef()
			ref.Write(msg)
			assert.Equal(t, ref.Sum(nil), resumed.Sum(nil))
		})
	}
}

func TestHashContext_Boundaries(t *testing.T) {
	h, err := newHash(types.HashSHA256)
	require.NoError(t, err)
	h.Write(make([]byte, 65))
	_, err = saveContext(types.HashSHA256, h)
	assert.ErrorIs(t, err, types.ErrBadLength)

	ctx := make([]byte, types.HashSHA256.ContextSize())
	ctx[len(ctx)-1] = 3
	_, err = loadContext(types.HashSHA256, ctx)
	assert.ErrorIs(t, err, types.ErrBadContext)
	_, err = loadContext(types.HashSHA256, ctx[:10])
	assert.ErrorIs(t, err, types.ErrBadContext)

	_, err = newHash(types.HashAlgorithm(0))
	assert.ErrorIs(t, err, types.ErrBadAlgorithm)
}
