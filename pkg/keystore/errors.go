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

import "errors"

var (
	// ErrInvalidHandle is returned for a handle that does not name an
	// allocated slot.
	ErrInvalidHandle = errors.New("keystore: invalid slot handle")

	// ErrOwnerMismatch is returned when a slot is accessed with an owner ID
	// other than the one it was allocated for.
	ErrOwnerMismatch = errors.New("keystore: owner mismatch")

	// ErrWeakSecret is returned when a configured device secret is too
	// short.
	ErrWeakSecret = errors.New("keystore: device secret too short")

	// ErrCorruptSlot is returned when a persisted slot fails to unseal.
	ErrCorruptSlot = errors.New("keystore: corrupt slot")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("keystore: closed")
)
