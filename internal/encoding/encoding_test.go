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

package encoding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shw/pkg/shw"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

func testBlob(alg types.KeyAlgorithm, n int) []byte {
	blob := make([]byte, shw.WrappedKeySize(n))
	for i := range blob {
		blob[i] = byte(i)
	}
	blob[shw.WrapHeaderSize-3] = byte(n)
	blob[shw.WrapHeaderSize-2] = byte(alg)
	blob[shw.WrapHeaderSize-1] = 0
	return blob
}

func TestWrappedKeyPEM_RoundTrip(t *testing.T) {
	blob := testBlob(types.KeyAlgAES, 16)

	pemData, err := EncodeWrappedKeyPEM(0x1234, blob)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pemData), "-----BEGIN SHW WRAPPED KEY-----"))
	assert.Contains(t, string(pemData), "Owner: 0x1234")
	assert.Contains(t, string(pemData), "Algorithm: AES")

	wk, err := DecodeWrappedKeyPEM(pemData)
	require.NoError(t, err)
	assert.Equal(t, types.OwnerID(0x1234), wk.Owner)
	assert.Equal(t, types.KeyAlgAES, wk.Algorithm)
	assert.Equal(t, blob, wk.Blob)
}

func TestEncodeWrappedKeyPEM_ShortBlob(t *testing.T) {
	_, err := EncodeWrappedKeyPEM(1, make([]byte, shw.WrapHeaderSize))
	assert.ErrorIs(t, err, types.ErrBadBlob)
}

func TestDecodeWrappedKeyPEM_Errors(t *testing.T) {
	good, err := EncodeWrappedKeyPEM(7, testBlob(types.KeyAlgARC4, 5))
	require.NoError(t, err)

	tests := []struct {
		name string
		data string
		want error
	}{
		{"not PEM", "hello", ErrInvalidEncodingPEM},
		{"wrong type", strings.ReplaceAll(string(good), WrappedKeyBlockType, "PUBLIC KEY"), ErrInvalidBlockType},
		{"bad owner", strings.Replace(string(good), "Owner: 0x7", "Owner: seven", 1), ErrInvalidHeader},
		{"algorithm mismatch", strings.Replace(string(good), "Algorithm: ARC4", "Algorithm: AES", 1), ErrInvalidHeader},
		{"unknown algorithm", strings.Replace(string(good), "Algorithm: ARC4", "Algorithm: RC2", 1), ErrInvalidHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWrappedKeyPEM([]byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = DecodeWrappedKeyPEM(nil)
	assert.Error(t, err)
}

func TestDecodeHex(t *testing.T) {
	for _, in := range []string{"deadbeef", "0xdeadbeef", "de:ad:be:ef", " DE AD\nBE EF "} {
		b, err := DecodeHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b, in)
	}
	b, err := DecodeHex("")
	require.NoError(t, err)
	assert.Empty(t, b)

	_, err = DecodeHex("abc")
	assert.ErrorIs(t, err, ErrInvalidHex)
	_, err = DecodeHex("zz")
	assert.ErrorIs(t, err, ErrInvalidHex)
}
