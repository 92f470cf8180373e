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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shw/pkg/crypto/rand"
	"github.com/jeremyhahn/go-shw/pkg/keystore"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

const testOwner types.OwnerID = 0x1234

func establish(t *testing.T, e *Engine, alg types.KeyAlgorithm, key []byte) *types.KeyObject {
	t.Helper()
	k := types.NewKeyObject(alg, testOwner)
	require.NoError(t, e.EstablishKey(context.Background(), blockingUser(), k, EstablishAccept, key))
	return k
}

func TestWrap_RoundTripAllLengths(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uc := blockingUser()

	for n := 1; n <= MaxWrappedKey; n++ {
		key := pattern(n, byte(n))
		k := establish(t, env.engine, types.KeyAlgARC4, key)

		blob, err := env.engine.ExtractKey(ctx, uc, k)
		require.NoError(t, err, "n=%d", n)
		require.Len(t, blob, WrappedKeySize(n))
		assert.False(t, k.IsEstablished(), "extract releases the slot")
		assert.Equal(t, byte(n), blob[wrapOffsetLen])
		assert.Equal(t, byte(types.KeyAlgARC4), blob[wrapOffsetAlg])
		assert.NotEqual(t, key, blob[WrapHeaderSize:], "key must not appear in the clear")

		u := types.NewKeyObject(0, testOwner)
		require.NoError(t, env.engine.EstablishKey(ctx, uc, u, EstablishUnwrap, blob), "n=%d", n)
		assert.Equal(t, types.KeyAlgARC4, u.Algorithm)
		assert.Equal(t, n, u.Length())

		got, err := env.engine.ReadKey(ctx, uc, u)
		require.NoError(t, err)
		assert.Equal(t, key, got, "n=%d", n)
		require.NoError(t, env.engine.ReleaseKey(ctx, uc, u))
	}
	assert.Zero(t, env.store.InUse(), "no slot may outlive a wrap or unwrap")
}

func TestWrap_AnyByteFlipFailsAuthentication(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uc := blockingUser()

	k := establish(t, env.engine, types.KeyAlgAES, aesKey)
	blob, err := env.engine.ExtractKey(ctx, uc, k)
	require.NoError(t, err)

	for i := range blob {
		for _, mask := range []byte{0x01, 0x80} {
			tampered := append([]byte(nil), blob...)
			tampered[i] ^= mask
			u := types.NewKeyObject(types.KeyAlgAES, testOwner)
			err := env.engine.EstablishKey(ctx, uc, u, EstablishUnwrap, tampered)
			assert.ErrorIs(t, err, types.ErrAuthFailed, "byte %d mask %#x", i, mask)
			assert.False(t, u.IsEstablished())
			assert.Zero(t, env.store.InUse(), "byte %d: slots leaked", i)
		}
	}
}

// loadRecorder records every slot written through Load.
type loadRecorder struct {
	*keystore.SlotStore

	mu    sync.Mutex
	loads []types.Handle
}

func (s *loadRecorder) Load(owner types.OwnerID, handle types.Handle, data []byte) error {
	s.mu.Lock()
	s.loads = append(s.loads, handle)
	s.mu.Unlock()
	return s.SlotStore.Load(owner, handle, data)
}

func (s *loadRecorder) Loads() []types.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Handle(nil), s.loads...)
}

func TestUnwrap_FailedICVDerivesNoKeyMaterial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uc := blockingUser()

	k := establish(t, env.engine, types.KeyAlgAES, aesKey)
	blob, err := env.engine.ExtractKey(ctx, uc, k)
	require.NoError(t, err)

	tampered := append([]byte(nil), blob...)
	tampered[0] ^= 0x01
	rec := &loadRecorder{SlotStore: env.store}
	u := types.NewKeyObject(types.KeyAlgAES, testOwner)
	u.Keystore = rec
	err = env.engine.EstablishKey(ctx, uc, u, EstablishUnwrap, tampered)
	require.ErrorIs(t, err, types.ErrAuthFailed)
	assert.Len(t, rec.Loads(), 1, "only the recovered nonce may be loaded")
	assert.Zero(t, env.store.InUse())

	rec = &loadRecorder{SlotStore: env.store}
	u = types.NewKeyObject(types.KeyAlgAES, testOwner)
	u.Keystore = rec
	require.NoError(t, env.engine.EstablishKey(ctx, uc, u, EstablishUnwrap, blob))
	assert.Greater(t, len(rec.Loads()), 1, "a verified blob derives the KEK and the key")
	require.NoError(t, env.engine.ReleaseKey(ctx, uc, u))
}

func TestWrap_OwnerBinding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uc := blockingUser()

	k := establish(t, env.engine, types.KeyAlgAES, aesKey)
	blob, err := env.engine.ExtractKey(ctx, uc, k)
	require.NoError(t, err)

	other := types.NewKeyObject(types.KeyAlgAES, testOwner+1)
	err = env.engine.EstablishKey(ctx, uc, other, EstablishUnwrap, blob)
	assert.ErrorIs(t, err, types.ErrAuthFailed)
	assert.Zero(t, env.store.InUse())
}

// Wrap a 16 byte AES key under owner 0x1234, unwrap it, and check the
// established key encrypts exactly like the raw one in CTR mode.
func TestWrap_AESScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uc := blockingUser()
	raw := rawKey(t, types.KeyAlgAES, aesKey)

	k := establish(t, env.engine, types.KeyAlgAES, aesKey)
	blob, err := env.engine.ExtractKey(ctx, uc, k)
	require.NoError(t, err)

	u := types.NewKeyObject(types.KeyAlgAES, testOwner)
	require.NoError(t, env.engine.EstablishKey(ctx, uc, u, EstablishUnwrap, blob))

	iv := pattern(16, 0x80)
	pt := pattern(45, 3)
	encrypt := func(key *types.KeyObject) []byte {
		sc := types.NewSymContext(types.ModeCTR, types.SymFlagLoad)
		require.NoError(t, sc.SetContext(iv))
		out := make([]byte, len(pt))
		require.NoError(t, env.engine.SymmetricEncrypt(ctx, uc, sc, key, pt, out))
		return out
	}
	ct := encrypt(u)
	assert.Equal(t, encrypt(raw), ct)

	sc := types.NewSymContext(types.ModeCTR, types.SymFlagLoad)
	require.NoError(t, sc.SetContext(iv))
	back := make([]byte, len(ct))
	require.NoError(t, env.engine.SymmetricDecrypt(ctx, uc, sc, u, ct, back))
	assert.Equal(t, pt, back)
}

func TestWrap_FixedNonceIsRepeatable(t *testing.T) {
	fixed, err := rand.NewFixedResolver([]byte{0xa5, 0x5a})
	require.NoError(t, err)
	env := newTestEnv(t, withNonce(fixed))
	ctx := context.Background()

	var blobs [][]byte
	for i := 0; i < 2; i++ {
		k := establish(t, env.engine, types.KeyAlgAES, aesKey)
		blob, err := env.engine.ExtractKey(ctx, blockingUser(), k)
		require.NoError(t, err)
		blobs = append(blobs, blob)
	}
	assert.Equal(t, blobs[0], blobs[1])

	random := newTestEnv(t, withKeystore(env.store))
	k := establish(t, random.engine, types.KeyAlgAES, aesKey)
	blob, err := random.engine.ExtractKey(ctx, blockingUser(), k)
	require.NoError(t, err)
	assert.NotEqual(t, blobs[0], blob)

	u := types.NewKeyObject(types.KeyAlgAES, testOwner)
	require.NoError(t, random.engine.EstablishKey(ctx, blockingUser(), u, EstablishUnwrap, blobs[0]))
}

func TestWrap_DeviceBinding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := establish(t, env.engine, types.KeyAlgAES, aesKey)
	blob, err := env.engine.ExtractKey(ctx, blockingUser(), k)
	require.NoError(t, err)

	other, err := keystore.NewSlotStore(&keystore.Config{DeviceSecret: []byte("another device secret of 32 byte")})
	require.NoError(t, err)
	foreign := newTestEnv(t, withKeystore(other))

	u := types.NewKeyObject(types.KeyAlgAES, testOwner)
	err = foreign.engine.EstablishKey(ctx, blockingUser(), u, EstablishUnwrap, blob)
	assert.ErrorIs(t, err, types.ErrAuthFailed)
	assert.Zero(t, other.InUse())
}

func TestWrap_MalformedBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, n := range []int{0, WrapHeaderSize, WrappedKeySize(MaxWrappedKey + 1)} {
		u := types.NewKeyObject(types.KeyAlgAES, testOwner)
		err := env.engine.EstablishKey(ctx, blockingUser(), u, EstablishUnwrap, make([]byte, n))
		assert.ErrorIs(t, err, types.ErrBadBlob, "n=%d", n)
	}
	assert.Zero(t, env.store.InUse())
}

func TestWrap_PersistentFlags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uc := blockingUser()

	k := types.NewKeyObject(types.KeyAlgDES, testOwner)
	k.Flags |= types.KeyFlagNoRead | types.KeyFlagIgnoreParity
	require.NoError(t, env.engine.EstablishKey(ctx, uc, k, EstablishAccept, desKey))
	_, err := env.engine.ReadKey(ctx, uc, k)
	assert.ErrorIs(t, err, types.ErrKeyNotReadable)

	blob, err := env.engine.ExtractKey(ctx, uc, k)
	require.NoError(t, err)

	u := types.NewKeyObject(types.KeyAlgDES, testOwner)
	require.NoError(t, env.engine.EstablishKey(ctx, uc, u, EstablishUnwrap, blob))
	assert.NotZero(t, u.Flags&types.KeyFlagNoRead)
	assert.NotZero(t, u.Flags&types.KeyFlagIgnoreParity)
	_, err = env.engine.ReadKey(ctx, uc, u)
	assert.ErrorIs(t, err, types.ErrKeyNotReadable)
}

func TestWrap_AlgorithmMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := establish(t, env.engine, types.KeyAlgAES, aesKey)
	blob, err := env.engine.ExtractKey(ctx, blockingUser(), k)
	require.NoError(t, err)

	u := types.NewKeyObject(types.KeyAlgARC4, testOwner)
	err = env.engine.EstablishKey(ctx, blockingUser(), u, EstablishUnwrap, blob)
	assert.ErrorIs(t, err, types.ErrBadAlgorithm)
	assert.Zero(t, env.store.InUse())
}

func TestEstablishKey_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uc := blockingUser()

	k := types.NewKeyObject(types.KeyAlgAES, testOwner)
	require.NoError(t, k.SetLength(32))
	require.NoError(t, env.engine.EstablishKey(ctx, uc, k, EstablishCreate, nil))
	assert.True(t, k.IsEstablished())
	assert.Equal(t, 1, env.store.InUse())

	key, err := env.engine.ReadKey(ctx, uc, k)
	require.NoError(t, err)
	assert.Len(t, key, 32)
	assert.NotEqual(t, make([]byte, 32), key)

	err = env.engine.EstablishKey(ctx, uc, k, EstablishCreate, nil)
	assert.ErrorIs(t, err, types.ErrKeyAlreadyEstablished)

	require.NoError(t, env.engine.ReleaseKey(ctx, uc, k))
	assert.False(t, k.IsEstablished())
	assert.Zero(t, env.store.InUse())

	err = env.engine.ReleaseKey(ctx, uc, k)
	assert.ErrorIs(t, err, types.ErrKeyNotEstablished)
}

func TestEstablishKey_AcceptPresentKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := rawKey(t, types.KeyAlgAES, aesKey)

	require.NoError(t, env.engine.EstablishKey(ctx, blockingUser(), k, EstablishAccept, nil))
	assert.False(t, k.IsPresent(), "raw bytes are wiped once established")
	assert.Nil(t, k.Key())

	got, err := env.engine.ReadKey(ctx, blockingUser(), k)
	require.NoError(t, err)
	assert.Equal(t, aesKey, got)
}

func TestEstablishKey_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uc := blockingUser()

	err := env.engine.EstablishKey(ctx, uc, nil, EstablishCreate, nil)
	assert.ErrorIs(t, err, types.ErrBadContext)

	k := types.NewKeyObject(types.KeyAlgAES, testOwner)
	assert.ErrorIs(t, env.engine.EstablishKey(ctx, uc, k, EstablishCreate, nil), types.ErrBadKeyLength)
	assert.ErrorIs(t, env.engine.EstablishKey(ctx, uc, k, EstablishAccept, nil), types.ErrKeyNotPresent)
	assert.ErrorIs(t, env.engine.EstablishKey(ctx, uc, k, EstablishAccept, make([]byte, 15)), types.ErrBadKeyLength)
	assert.ErrorIs(t, env.engine.EstablishKey(ctx, uc, k, EstablishKind(0), nil), types.ErrBadFlags)

	_, err = env.engine.ExtractKey(ctx, uc, k)
	assert.ErrorIs(t, err, types.ErrKeyNotEstablished)

	hmacKey := types.NewKeyObject(types.KeyAlgHMAC, testOwner)
	require.NoError(t, env.engine.EstablishKey(ctx, uc, hmacKey, EstablishAccept, make([]byte, 48)))
	_, err = env.engine.ExtractKey(ctx, uc, hmacKey)
	assert.ErrorIs(t, err, types.ErrBadKeyLength, "keys over 32 bytes cannot be wrapped")
	assert.True(t, hmacKey.IsEstablished())

	noStore, err := New(&Config{Executor: env.exec})
	require.NoError(t, err)
	err = noStore.EstablishKey(ctx, uc, types.NewKeyObject(types.KeyAlgAES, 1), EstablishAccept, aesKey)
	assert.ErrorIs(t, err, types.ErrBadContext)
}

func TestEstablishKey_UserKeystore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own, err := keystore.NewSlotStore(&keystore.Config{Slots: 4})
	require.NoError(t, err)

	uc := blockingUser()
	uc.Keystore = own
	k := types.NewKeyObject(types.KeyAlgAES, testOwner)
	require.NoError(t, env.engine.EstablishKey(ctx, uc, k, EstablishAccept, aesKey))
	assert.Equal(t, 1, own.InUse())
	assert.Zero(t, env.store.InUse())

	pt := pattern(16, 1)
	ct := make([]byte, 16)
	require.NoError(t, env.engine.SymmetricEncrypt(ctx, uc, types.NewSymContext(types.ModeECB, 0), k, pt, ct))
}
