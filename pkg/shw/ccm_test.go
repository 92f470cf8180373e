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

package shw

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shw/pkg/types"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestFormatCCM(t *testing.T) {
	nonce := unhex(t, "10111213141516")
	b0, ctr0, err := FormatCCM(nonce, 4, true, 4)
	require.NoError(t, err)
	assert.Equal(t, "4f101112131415160000000000000004", hex.EncodeToString(b0[:]))
	assert.Equal(t, "07101112131415160000000000000000", hex.EncodeToString(ctr0[:]))

	b0, ctr0, err = FormatCCM(pattern(13, 1), 0x0102, false, 16)
	require.NoError(t, err)
	assert.Equal(t, byte(0x39), b0[0], "no AAD, M'=7, L'=1")
	assert.Equal(t, []byte{0x01, 0x02}, b0[14:])
	assert.Equal(t, byte(0x01), ctr0[0])

	_, _, err = FormatCCM(pattern(13, 1), 1<<16, false, 16)
	assert.ErrorIs(t, err, types.ErrBadLength, "a two byte length field holds less than 64 KiB")
	_, _, err = FormatCCM(pattern(6, 1), 0, false, 8)
	assert.ErrorIs(t, err, types.ErrBadLength)
	_, _, err = FormatCCM(pattern(7, 1), 0, false, 5)
	assert.ErrorIs(t, err, types.ErrBadLength)
}

func TestCCMAADLength(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, ""},
		{1, "0001"},
		{0xfeff, "feff"},
		{0xff00, "fffe0000ff00"},
		{1<<32 - 1, "fffeffffffff"},
	}
	for _, tt := range tests {
		got, err := ccmAADLength(tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, hex.EncodeToString(got), "n=%d", tt.n)
	}
	_, err := ccmAADLength(1 << 32)
	assert.ErrorIs(t, err, types.ErrBadLength)
}

// NIST SP 800-38C appendix C examples 1 and 2.
func TestCCM_NISTVectors(t *testing.T) {
	env := newTestEnv(t)
	key := unhex(t, "404142434445464748494a4b4c4d4e4f")

	tests := []struct {
		nonce, aad, pt, ct, tag string
	}{
		{"10111213141516", "0001020304050607", "20212223", "7162015b", "4dac255d"},
		{"1011121314151617", "000102030405060708090a0b0c0d0e0f",
			"202122232425262728292a2b2c2d2e2f", "d2a1f0e051ea5f62081a7792073d593d", "1fc64fbfaccd"},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i+1), func(t *testing.T) {
			pt := unhex(t, tt.pt)
			tag := make([]byte, len(tt.tag)/2)
			ac, err := types.NewCCMContext(unhex(t, tt.nonce), len(tag))
			require.NoError(t, err)

			ct := make([]byte, len(pt))
			require.NoError(t, env.engine.AuthEncrypt(context.Background(), blockingUser(), ac,
				rawKey(t, types.KeyAlgAES, key), unhex(t, tt.aad), pt, ct, tag))
			assert.Equal(t, tt.ct, hex.EncodeToString(ct))
			assert.Equal(t, tt.tag, hex.EncodeToString(tag))
		})
	}
}

func TestCCM_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := rawKey(t, types.KeyAlgAES, aesKey)

	for _, n := range []int{0, 1, 15, 16, 17, 48, 100} {
		for _, a := range []int{0, 1, 14, 16, 40} {
			for _, macLen := range []int{4, 8, 16} {
				name := fmt.Sprintf("p=%d/a=%d/m=%d", n, a, macLen)
				ac, err := types.NewCCMContext(pattern(11, byte(n)), macLen)
				require.NoError(t, err)
				pt := pattern(n, 1)
				aad := pattern(a, 2)

				ct := make([]byte, n)
				tag := make([]byte, macLen)
				require.NoError(t, env.engine.AuthEncrypt(ctx, blockingUser(), ac, key, aad, pt, ct, tag), name)

				back := make([]byte, n)
				require.NoError(t, env.engine.AuthDecrypt(ctx, blockingUser(), ac, key, aad, ct, back, tag), name)
				assert.Equal(t, pt, back, name)
			}
		}
	}
}

func TestCCM_LargeAAD(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := rawKey(t, types.KeyAlgAES, aesKey)
	ac, err := types.NewCCMContext(pattern(12, 3), 12)
	require.NoError(t, err)
	aad := pattern(0xff00+3, 4)
	pt := []byte("payload under a six byte AAD length")

	ct := make([]byte, len(pt))
	tag := make([]byte, 12)
	require.NoError(t, env.engine.AuthEncrypt(ctx, blockingUser(), ac, key, aad, pt, ct, tag))
	back := make([]byte, len(pt))
	require.NoError(t, env.engine.AuthDecrypt(ctx, blockingUser(), ac, key, aad, ct, back, tag))
	assert.Equal(t, pt, back)
}

func TestCCM_Tampering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := rawKey(t, types.KeyAlgAES, aesKey)
	ac, err := types.NewCCMContext(pattern(13, 9), 10)
	require.NoError(t, err)
	pt := pattern(37, 1)
	aad := []byte("header")

	ct := make([]byte, len(pt))
	tag := make([]byte, 10)
	require.NoError(t, env.engine.AuthEncrypt(ctx, blockingUser(), ac, key, aad, pt, ct, tag))

	flip := func(b []byte, i int) []byte {
		c := append([]byte(nil), b...)
		c[i] ^= 0x01
		return c
	}
	tests := []struct {
		name         string
		aad, ct, tag []byte
	}{
		{"aad", flip(aad, 0), ct, tag},
		{"aad dropped", nil, ct, tag},
		{"ciphertext first", aad, flip(ct, 0), tag},
		{"ciphertext last", aad, flip(ct, len(ct)-1), tag},
		{"tag", aad, ct, flip(tag, len(tag)-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]byte, len(tt.ct))
			err := env.engine.AuthDecrypt(ctx, blockingUser(), ac, key, tt.aad, tt.ct, out, tt.tag)
			assert.ErrorIs(t, err, types.ErrAuthFailed)
			assert.Equal(t, make([]byte, len(out)), out, "plaintext must be zeroed")
		})
	}
}

func TestCCM_NonBlockingDeferredCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := rawKey(t, types.KeyAlgAES, aesKey)
	ac, err := types.NewCCMContext(pattern(7, 1), 8)
	require.NoError(t, err)
	pt := pattern(20, 5)

	ct := make([]byte, len(pt))
	tag := make([]byte, 8)
	require.NoError(t, env.engine.AuthEncrypt(ctx, blockingUser(), ac, key, nil, pt, ct, tag))

	uc := types.NewUserContext(0, 0)
	good := make([]byte, len(ct))
	require.NoError(t, env.engine.AuthDecrypt(ctx, uc, ac, key, nil, ct, good, tag))
	results := collect(t, env.engine, uc, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, pt, good)

	bad := make([]byte, len(ct))
	badTag := append([]byte(nil), tag...)
	badTag[0] ^= 0xff
	require.NoError(t, env.engine.AuthDecrypt(ctx, uc, ac, key, nil, ct, bad, badTag))
	results = collect(t, env.engine, uc, 1)
	assert.ErrorIs(t, results[0].Err, types.ErrAuthFailed)
	assert.Equal(t, make([]byte, len(bad)), bad)
}

func TestCCM_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ac, err := types.NewCCMContext(pattern(12, 0), 8)
	require.NoError(t, err)
	aes128 := rawKey(t, types.KeyAlgAES, aesKey)

	err = env.engine.AuthEncrypt(ctx, blockingUser(), ac, rawKey(t, types.KeyAlgDES, desKey), nil, nil, nil, make([]byte, 8))
	assert.ErrorIs(t, err, types.ErrBadAlgorithm)

	err = env.engine.AuthEncrypt(ctx, blockingUser(), ac, aes128, nil, nil, nil, make([]byte, 4))
	assert.ErrorIs(t, err, types.ErrBadLength)

	err = env.engine.AuthEncrypt(ctx, blockingUser(), ac, aes128, nil, make([]byte, 3), make([]byte, 4), make([]byte, 8))
	assert.ErrorIs(t, err, types.ErrBadLength)

	err = env.engine.AuthEncrypt(ctx, blockingUser(), &types.AuthContext{Mode: types.ModeCBC}, aes128, nil, nil, nil, nil)
	assert.ErrorIs(t, err, types.ErrBadMode)

	err = env.engine.AuthDecrypt(ctx, blockingUser(), nil, aes128, nil, nil, nil, nil)
	assert.ErrorIs(t, err, types.ErrBadContext)
	assert.Zero(t, env.exec.Submitted())

	_, err = types.NewCCMContext(pattern(14, 0), 8)
	assert.ErrorIs(t, err, types.ErrBadLength)
}
