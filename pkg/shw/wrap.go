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
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-shw/pkg/adapters/logger"
	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/correlation"
	"github.com/jeremyhahn/go-shw/pkg/metrics"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Wrapped key blob layout:
//
//	ICV (16) || T' (16) || length (1) || algorithm (1) || flags (1) || KEY' (length)
//
// T is a fresh 16 byte nonce and T' its device-bound encryption. The key
// encryption key is SHA-256(T || owner) truncated to 16 bytes, KEY' is the
// key under AES-CTR with that KEK and a zero counter, and the ICV is
// HMAC-SHA-256 keyed with T over owner || length || algorithm || flags ||
// KEY', truncated to 16 bytes.
const (
	WrapICVSize     = 16
	WrapNonceSize   = 16
	WrapHeaderSize  = WrapICVSize + WrapNonceSize + 3
	MaxWrappedKey   = 32
	wrapKEKSize     = 16
	wrapOffsetLen   = WrapICVSize + WrapNonceSize
	wrapOffsetAlg   = wrapOffsetLen + 1
	wrapOffsetFlags = wrapOffsetLen + 2
)

// WrappedKeySize returns the blob size for a key of n bytes.
func WrappedKeySize(n int) int {
	return WrapHeaderSize + n
}

// EstablishKind selects how EstablishKey obtains the key material.
type EstablishKind int

const (
	// EstablishCreate fills a new slot with random bytes. The key length
	// must have been set with KeyObject.SetLength.
	EstablishCreate EstablishKind = iota + 1

	// EstablishAccept loads a clear key: data when given, otherwise the
	// raw bytes held by the key object.
	EstablishAccept

	// EstablishUnwrap verifies and decrypts a blob produced by ExtractKey.
	EstablishUnwrap
)

// String returns the kind name.
func (k EstablishKind) String() string {
	switch k {
	case EstablishCreate:
		return "create"
	case EstablishAccept:
		return "accept"
	case EstablishUnwrap:
		return "unwrap"
	default:
		return "unknown"
	}
}

// EstablishKey places key material in a keystore slot and marks key
// established. The keystore is the key's own, the user context's or the
// system keystore, in that order. Key chains always run blocking.
//
// An unwrap whose ICV does not verify returns types.ErrAuthFailed before
// the KEK is derived or a slot is allocated for the key.
func (e *Engine) EstablishKey(ctx context.Context, uc *types.UserContext, key *types.KeyObject, kind EstablishKind, data []byte) (err error) {
	start := time.Now()
	defer func() { observe(metrics.OpEstablishKey, false, start, err) }()
	// Key protocols may run several chains; they share one correlation ID.
	ctx, _ = correlation.Ensure(ctx)

	if err := checkUser(uc); err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("%w: key object", types.ErrBadContext)
	}
	if key.IsEstablished() {
		return types.ErrKeyAlreadyEstablished
	}
	store, err := e.keystoreFor(uc, key)
	if err != nil {
		return err
	}

	switch kind {
	case EstablishCreate:
		err = e.createKey(ctx, uc, store, key)
	case EstablishAccept:
		err = e.acceptKey(store, key, data)
	case EstablishUnwrap:
		err = e.unwrap(ctx, uc, store, key, data)
	default:
		return fmt.Errorf("%w: establish kind %d", types.ErrBadFlags, kind)
	}
	if err != nil {
		return err
	}
	e.logger.Debug("key established",
		logger.Operation(metrics.OpEstablishKey),
		logger.String("kind", kind.String()),
		logger.String("algorithm", key.Algorithm.String()),
		logger.Int("length", key.Length()))
	return nil
}

func (e *Engine) createKey(ctx context.Context, uc *types.UserContext, store types.Keystore, key *types.KeyObject) error {
	n := key.Length()
	if !key.Algorithm.ValidKeyLength(n) {
		return fmt.Errorf("%w: %d bytes for %s", types.ErrBadKeyLength, n, key.Algorithm)
	}
	handle, err := store.Allocate(key.Owner, n)
	if err != nil {
		return err
	}
	r := e.newRequest(metrics.OpEstablishKey, uc.Blocking())
	defer r.b.Abort()
	err = func() error {
		dst, err := r.b.Slot(store, key.Owner, handle, n, true)
		if err != nil {
			return err
		}
		if err := r.b.Add(chain.Header{Opcode: chain.OpRNG}, nil, dst); err != nil {
			return err
		}
		return e.submit(ctx, r)
	}()
	if err != nil {
		return errors.Join(err, store.Deallocate(key.Owner, handle))
	}
	key.Established(handle, n)
	return nil
}

func (e *Engine) acceptKey(store types.Keystore, key *types.KeyObject, data []byte) error {
	if data == nil {
		if !key.IsPresent() {
			return types.ErrKeyNotPresent
		}
		data = key.Key()
	}
	if !key.Algorithm.ValidKeyLength(len(data)) {
		return fmt.Errorf("%w: %d bytes for %s", types.ErrBadKeyLength, len(data), key.Algorithm)
	}
	handle, err := store.Allocate(key.Owner, len(data))
	if err != nil {
		return err
	}
	if err := store.Load(key.Owner, handle, data); err != nil {
		return errors.Join(err, store.Deallocate(key.Owner, handle))
	}
	key.Established(handle, len(data))
	return nil
}

// ExtractKey wraps an established key into a blob and releases its slot.
func (e *Engine) ExtractKey(ctx context.Context, uc *types.UserContext, key *types.KeyObject) (blob []byte, err error) {
	start := time.Now()
	defer func() { observe(metrics.OpExtractKey, false, start, err) }()
	ctx, _ = correlation.Ensure(ctx)

	if err := checkUser(uc); err != nil {
		return nil, err
	}
	if key == nil || !key.IsEstablished() {
		return nil, types.ErrKeyNotEstablished
	}
	store, err := e.keystoreFor(uc, key)
	if err != nil {
		return nil, err
	}
	blob, err = e.wrap(ctx, uc, store, key)
	if err != nil {
		return nil, err
	}
	if err := e.release(store, key); err != nil {
		clear(blob)
		return nil, err
	}
	return blob, nil
}

// ReleaseKey zeroes and frees the slot of an established key.
func (e *Engine) ReleaseKey(ctx context.Context, uc *types.UserContext, key *types.KeyObject) (err error) {
	start := time.Now()
	defer func() { observe(metrics.OpReleaseKey, false, start, err) }()

	if err := checkUser(uc); err != nil {
		return err
	}
	if key == nil || !key.IsEstablished() {
		return types.ErrKeyNotEstablished
	}
	store, err := e.keystoreFor(uc, key)
	if err != nil {
		return err
	}
	return e.release(store, key)
}

func (e *Engine) release(store types.Keystore, key *types.KeyObject) error {
	if err := store.Deallocate(key.Owner, key.Handle()); err != nil {
		return err
	}
	key.Released()
	return nil
}

// ReadKey returns the clear key bytes unless the key is marked
// types.KeyFlagNoRead. The caller must clear the result.
func (e *Engine) ReadKey(ctx context.Context, uc *types.UserContext, key *types.KeyObject) (out []byte, err error) {
	start := time.Now()
	defer func() { observe(metrics.OpReadKey, false, start, err) }()

	if err := checkUser(uc); err != nil {
		return nil, err
	}
	switch {
	case key == nil:
		return nil, types.ErrKeyNotPresent
	case key.Flags&types.KeyFlagNoRead != 0:
		return nil, types.ErrKeyNotReadable
	case key.IsPresent():
		return append([]byte(nil), key.Key()...), nil
	case !key.IsEstablished():
		return nil, types.ErrKeyNotPresent
	}
	store, err := e.keystoreFor(uc, key)
	if err != nil {
		return nil, err
	}
	b, err := store.Read(key.Owner, key.Handle())
	if err != nil {
		return nil, err
	}
	if len(b) < key.Length() {
		clear(b)
		return nil, fmt.Errorf("%w: slot holds %d bytes", types.ErrBadLength, len(b))
	}
	out = append([]byte(nil), b[:key.Length()]...)
	clear(b)
	return out, nil
}

// slots tracks the ephemeral keystore slots of one wrap or unwrap.
type slots struct {
	store types.Keystore
	owner types.OwnerID
	held  []types.Handle
}

func (s *slots) allocate(size int) (types.Handle, error) {
	h, err := s.store.Allocate(s.owner, size)
	if err != nil {
		return 0, err
	}
	s.held = append(s.held, h)
	return h, nil
}

// free deallocates every slot and reports the first failure.
func (s *slots) free() error {
	var errs []error
	for _, h := range s.held {
		errs = append(errs, s.store.Deallocate(s.owner, h))
	}
	s.held = nil
	return errors.Join(errs...)
}

// icvMessage returns owner || length || algorithm || flags.
func icvMessage(owner types.OwnerID, blob []byte) []byte {
	return append(owner.Bytes(), blob[wrapOffsetLen:WrapHeaderSize]...)
}

// addKEK derives the KEK from the nonce slot into the KEK slot.
func addKEK(b *chain.Builder, store types.Keystore, owner types.OwnerID, nonce, kek types.Handle) error {
	t, err := b.Slot(store, owner, nonce, WrapNonceSize, false)
	if err != nil {
		return err
	}
	id, err := b.Copy(owner.Bytes())
	if err != nil {
		return err
	}
	dst, err := b.Slot(store, owner, kek, wrapKEKSize, true)
	if err != nil {
		return err
	}
	hdr := chain.Header{Opcode: chain.OpHash, Hash: types.HashSHA256, Flags: chain.FlagInit | chain.FlagFinalize}
	return b.Add(hdr, chain.Append(t, id), dst)
}

// addICV computes the ICV of blob keyed with the nonce slot into dst.
func addICV(b *chain.Builder, store types.Keystore, owner types.OwnerID, nonce types.Handle, blob []byte, dst *chain.Link) error {
	t, err := b.Slot(store, owner, nonce, WrapNonceSize, false)
	if err != nil {
		return err
	}
	if err := b.Add(chain.Header{Opcode: chain.OpHMACLoadKey, Hash: types.HashSHA256}, t, nil); err != nil {
		return err
	}
	head, err := b.Copy(icvMessage(owner, blob))
	if err != nil {
		return err
	}
	body, err := b.Input(blob[WrapHeaderSize:])
	if err != nil {
		return err
	}
	hdr := chain.Header{Opcode: chain.OpHash, Hash: types.HashSHA256, Flags: chain.FlagFinalize | chain.FlagHMAC}
	return b.Add(hdr, chain.Append(head, body), dst)
}

// addKeyCTR runs src through AES-CTR under the KEK slot into dst. Both
// sides are padded to a whole block with scratch links.
func addKeyCTR(b *chain.Builder, store types.Keystore, owner types.OwnerID, kek types.Handle, src, dst *chain.Link, n int, decrypt bool) error {
	hdr, err := chain.Header{Key: types.KeyAlgAES, Mode: types.ModeCTR}.WithModulus(128)
	if err != nil {
		return err
	}
	k, err := b.Slot(store, owner, kek, wrapKEKSize, false)
	if err != nil {
		return err
	}
	// No context: the counter starts at zero.
	if err := b.Add(withOp(hdr, chain.OpCipherLoad), nil, k); err != nil {
		return err
	}
	if pad := (ccmBlockSize - n%ccmBlockSize) % ccmBlockSize; pad > 0 {
		zeros, err := b.Scratch(pad, false)
		if err != nil {
			return err
		}
		sink, err := b.Scratch(pad, true)
		if err != nil {
			return err
		}
		src = chain.Append(src, zeros)
		dst = chain.Append(dst, sink)
	}
	hdr.Opcode = chain.OpCipher
	if decrypt {
		hdr.Flags |= chain.FlagDecrypt
	}
	return b.Add(hdr, src, dst)
}

func (e *Engine) wrap(ctx context.Context, uc *types.UserContext, store types.Keystore, key *types.KeyObject) (blob []byte, err error) {
	n := key.Length()
	if n < 1 || n > MaxWrappedKey {
		return nil, fmt.Errorf("%w: cannot wrap a %d byte key", types.ErrBadKeyLength, n)
	}
	if !key.Algorithm.IsValid() {
		return nil, fmt.Errorf("%w: key algorithm %d", types.ErrBadAlgorithm, key.Algorithm)
	}
	owner := key.Owner
	eph := &slots{store: store, owner: owner}
	defer func() {
		if ferr := eph.free(); ferr != nil && err == nil {
			clear(blob)
			blob, err = nil, ferr
		}
	}()

	nonce, err := eph.allocate(WrapNonceSize)
	if err != nil {
		return nil, err
	}
	kek, err := eph.allocate(wrapKEKSize)
	if err != nil {
		return nil, err
	}
	if e.nonce != nil {
		t, err := e.nonce.Rand(WrapNonceSize)
		if err != nil {
			return nil, err
		}
		err = store.Load(owner, nonce, t)
		clear(t)
		if err != nil {
			return nil, err
		}
	}

	blob = make([]byte, WrappedKeySize(n))
	blob[wrapOffsetLen] = byte(n)
	blob[wrapOffsetAlg] = byte(key.Algorithm)
	blob[wrapOffsetFlags] = byte(key.Flags.PersistentFlags())

	r := e.newRequest(metrics.OpExtractKey, uc.Blocking())
	defer r.b.Abort()
	b := r.b
	err = func() error {
		if e.nonce == nil {
			t, err := b.Slot(store, owner, nonce, WrapNonceSize, true)
			if err != nil {
				return err
			}
			if err := b.Add(chain.Header{Opcode: chain.OpRNG}, nil, t); err != nil {
				return err
			}
		}
		if err := addKEK(b, store, owner, nonce, kek); err != nil {
			return err
		}
		src, err := b.Slot(store, owner, key.Handle(), n, false)
		if err != nil {
			return err
		}
		dst, err := b.Output(blob[WrapHeaderSize:])
		if err != nil {
			return err
		}
		if err := addKeyCTR(b, store, owner, kek, src, dst, n, false); err != nil {
			return err
		}
		icv, err := b.Output(blob[:WrapICVSize])
		if err != nil {
			return err
		}
		if err := addICV(b, store, owner, nonce, blob, icv); err != nil {
			return err
		}
		return e.submit(ctx, r)
	}()
	if err != nil {
		clear(blob)
		return nil, err
	}

	if err := store.EncryptInPlace(owner, nonce); err != nil {
		clear(blob)
		return nil, err
	}
	tp, err := store.Read(owner, nonce)
	if err != nil {
		clear(blob)
		return nil, err
	}
	copy(blob[WrapICVSize:wrapOffsetLen], tp)
	clear(tp)
	return blob, nil
}

func (e *Engine) unwrap(ctx context.Context, uc *types.UserContext, store types.Keystore, key *types.KeyObject, blob []byte) (err error) {
	if len(blob) <= WrapHeaderSize || len(blob) > WrappedKeySize(MaxWrappedKey) {
		return fmt.Errorf("%w: %d byte blob", types.ErrBadBlob, len(blob))
	}
	n := len(blob) - WrapHeaderSize
	owner := key.Owner
	eph := &slots{store: store, owner: owner}
	defer func() {
		if ferr := eph.free(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	nonce, err := eph.allocate(WrapNonceSize)
	if err != nil {
		return err
	}
	if err := store.Load(owner, nonce, blob[WrapICVSize:wrapOffsetLen]); err != nil {
		return err
	}
	if err := store.DecryptInPlace(owner, nonce); err != nil {
		return err
	}
	// The ICV runs on a chain of its own. Neither the KEK nor the key is
	// derived until it matches.
	r := e.newRequest(metrics.OpEstablishKey, uc.Blocking())
	defer r.b.Abort()
	icv, err := r.b.Scratch(WrapICVSize, true)
	if err != nil {
		return err
	}
	if err := addICV(r.b, store, owner, nonce, blob, icv); err != nil {
		return err
	}
	check := &chain.Check{Computed: icv.Data, Received: blob[:WrapICVSize]}
	r.prep = func(h *chain.Head) { h.Check = check }
	if err := e.submit(ctx, r); err != nil {
		return err
	}

	alg := types.KeyAlgorithm(blob[wrapOffsetAlg])
	switch {
	case int(blob[wrapOffsetLen]) != n:
		return fmt.Errorf("%w: length field %d for %d key bytes", types.ErrBadBlob, blob[wrapOffsetLen], n)
	case !alg.IsValid() || !alg.ValidKeyLength(n):
		return fmt.Errorf("%w: %d byte key for algorithm %d", types.ErrBadBlob, n, alg)
	case key.Algorithm != 0 && key.Algorithm != alg:
		return fmt.Errorf("%w: blob holds a %s key, object expects %s", types.ErrBadAlgorithm, alg, key.Algorithm)
	}

	kek, err := eph.allocate(wrapKEKSize)
	if err != nil {
		return err
	}
	handle, err := store.Allocate(owner, n)
	if err != nil {
		return err
	}
	r = e.newRequest(metrics.OpEstablishKey, uc.Blocking())
	defer r.b.Abort()
	err = func() error {
		if err := addKEK(r.b, store, owner, nonce, kek); err != nil {
			return err
		}
		src, err := r.b.Input(blob[WrapHeaderSize:])
		if err != nil {
			return err
		}
		dst, err := r.b.Slot(store, owner, handle, n, true)
		if err != nil {
			return err
		}
		if err := addKeyCTR(r.b, store, owner, kek, src, dst, n, true); err != nil {
			return err
		}
		return e.submit(ctx, r)
	}()
	if err != nil {
		return errors.Join(err, store.Deallocate(owner, handle))
	}

	key.Algorithm = alg
	key.Flags |= types.KeyFlags(blob[wrapOffsetFlags]).PersistentFlags()
	key.Established(handle, n)
	return nil
}
