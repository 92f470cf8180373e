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

import "encoding/binary"

// OwnerID binds key material to the caller context allowed to use it.
type OwnerID uint64

// Bytes returns the big-endian encoding of the owner ID. This is the form
// mixed into key derivation and integrity checks.
func (o OwnerID) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(o))
	return b
}

// Handle addresses a slot inside a keystore.
type Handle uint32

// Keystore is protected storage for key material addressed by owner ID and
// slot handle. Every operation on a given owner/slot pair must be serialized
// by the implementation; keystores are shared between requests.
//
// EncryptInPlace and DecryptInPlace transform a slot under a secret bound to
// the device. The secret never leaves the keystore.
type Keystore interface {
	// Allocate reserves a slot of size bytes for owner.
	Allocate(owner OwnerID, size int) (Handle, error)

	// Deallocate zeroes and releases the slot.
	Deallocate(owner OwnerID, handle Handle) error

	// Load writes data into the slot. len(data) must equal the slot size.
	Load(owner OwnerID, handle Handle, data []byte) error

	// Read returns a copy of the slot contents.
	Read(owner OwnerID, handle Handle) ([]byte, error)

	// SlotSize returns the size the slot was allocated with.
	SlotSize(owner OwnerID, handle Handle) (int, error)

	// EncryptInPlace encrypts the slot under the device-bound secret.
	EncryptInPlace(owner OwnerID, handle Handle) error

	// DecryptInPlace decrypts the slot under the device-bound secret.
	DecryptInPlace(owner OwnerID, handle Handle) error
}
