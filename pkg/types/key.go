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

import "fmt"

// KeyFlags describe the state and handling rules of a KeyObject.
type KeyFlags uint32

const (
	// KeyFlagPresent means the key object holds raw key bytes.
	KeyFlagPresent KeyFlags = 1 << iota

	// KeyFlagEstablished means the key lives in a keystore slot.
	KeyFlagEstablished

	// KeyFlagNoRead forbids reading the key back in the clear once it has
	// been established.
	KeyFlagNoRead

	// KeyFlagIgnoreParity skips the DES key parity check.
	KeyFlagIgnoreParity
)

// persistentKeyFlags are the flags recorded in a wrapped key blob.
const persistentKeyFlags = KeyFlagNoRead | KeyFlagIgnoreParity

// PersistentFlags returns the subset of flags that travel with a wrapped key.
func (f KeyFlags) PersistentFlags() KeyFlags {
	return f & persistentKeyFlags
}

// KeyObject describes a secret key: its algorithm, its length and where the
// material lives. A key is either present (raw bytes held here) or
// established (held in a keystore slot and referenced by owner and handle).
//
// Key objects are owned by the caller and reused across requests. The
// request layer never frees them implicitly.
type KeyObject struct {
	Algorithm KeyAlgorithm
	Owner     OwnerID
	Flags     KeyFlags

	// Keystore overrides the engine's system keystore for this key.
	Keystore Keystore

	length int
	key    []byte
	handle Handle
}

// NewKeyObject returns an empty key object for the given algorithm and owner.
func NewKeyObject(alg KeyAlgorithm, owner OwnerID) *KeyObject {
	return &KeyObject{
		Algorithm: alg,
		Owner:     owner,
	}
}

// SetKey stores raw key bytes in the object and marks it present. The bytes
// are copied.
func (k *KeyObject) SetKey(key []byte) error {
	if k.IsEstablished() {
		return ErrKeyAlreadyEstablished
	}
	if !k.Algorithm.ValidKeyLength(len(key)) {
		return fmt.Errorf("%w: %d bytes for %s", ErrBadKeyLength, len(key), k.Algorithm)
	}
	k.Wipe()
	k.key = make([]byte, len(key))
	copy(k.key, key)
	k.length = len(key)
	k.Flags |= KeyFlagPresent
	return nil
}

// SetLength sets the key length without key material. It is used before
// establishing a key that will be created by the engine.
func (k *KeyObject) SetLength(n int) error {
	if k.IsEstablished() {
		return ErrKeyAlreadyEstablished
	}
	if !k.Algorithm.ValidKeyLength(n) {
		return fmt.Errorf("%w: %d bytes for %s", ErrBadKeyLength, n, k.Algorithm)
	}
	k.length = n
	return nil
}

// Length returns the key length in bytes.
func (k *KeyObject) Length() int {
	return k.length
}

// Key returns the raw key bytes of a present key. The slice is shared with
// the key object.
func (k *KeyObject) Key() []byte {
	return k.key
}

// Handle returns the keystore slot of an established key.
func (k *KeyObject) Handle() Handle {
	return k.handle
}

// IsPresent reports whether raw key bytes are held in the object.
func (k *KeyObject) IsPresent() bool {
	return k.Flags&KeyFlagPresent != 0
}

// IsEstablished reports whether the key lives in a keystore slot.
func (k *KeyObject) IsEstablished() bool {
	return k.Flags&KeyFlagEstablished != 0
}

// Established marks the key as living in slot handle with the given length.
// Any raw bytes previously held are wiped.
func (k *KeyObject) Established(handle Handle, length int) {
	k.Wipe()
	k.handle = handle
	k.length = length
	k.Flags = (k.Flags &^ KeyFlagPresent) | KeyFlagEstablished
}

// Released clears the established state after the slot has been freed.
func (k *KeyObject) Released() {
	k.handle = 0
	k.Flags &^= KeyFlagEstablished
}

// Wipe zeroes and drops any raw key bytes held by the object.
func (k *KeyObject) Wipe() {
	clear(k.key)
	k.key = nil
	k.Flags &^= KeyFlagPresent
}
