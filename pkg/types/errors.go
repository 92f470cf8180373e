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

import "errors"

var (
	// ErrNoMemory is returned when an allocation fails while a descriptor
	// chain is being built. Everything allocated for the request has already
	// been released when this error is returned.
	ErrNoMemory = errors.New("shw: out of memory")

	// ErrBadFlags is returned for an illegal combination of context flags.
	ErrBadFlags = errors.New("shw: invalid flag combination")

	// ErrBadAlgorithm is returned when an algorithm is unknown or unsupported
	// for the requested operation.
	ErrBadAlgorithm = errors.New("shw: invalid algorithm")

	// ErrBadMode is returned when a cipher mode is unknown or cannot be used
	// with the selected algorithm.
	ErrBadMode = errors.New("shw: invalid mode")

	// ErrBadKeyLength is returned when a key length is not legal for its
	// algorithm.
	ErrBadKeyLength = errors.New("shw: invalid key length")

	// ErrBadLength is returned when a data, nonce, MAC or output length is
	// not legal for the operation.
	ErrBadLength = errors.New("shw: invalid length")

	// ErrBadContext is returned when a user or algorithm context is nil or
	// malformed.
	ErrBadContext = errors.New("shw: invalid context")

	// ErrAuthFailed is returned when an integrity check fails: the ICV of a
	// wrapped key or the tag of a CCM message. Output produced by the failed
	// request must not be used.
	ErrAuthFailed = errors.New("shw: authentication failed")

	// ErrPoolFull is returned when a non-blocking request would exceed the
	// user context's pool of outstanding requests.
	ErrPoolFull = errors.New("shw: request pool exhausted")

	// ErrKeyNotPresent is returned when an operation needs key material and
	// the key object holds neither raw bytes nor a keystore slot.
	ErrKeyNotPresent = errors.New("shw: key not present")

	// ErrKeyNotEstablished is returned when an operation needs a key that
	// lives in a keystore.
	ErrKeyNotEstablished = errors.New("shw: key not established")

	// ErrKeyAlreadyEstablished is returned when establishing a key object that
	// already owns a keystore slot.
	ErrKeyAlreadyEstablished = errors.New("shw: key already established")

	// ErrKeyNotReadable is returned when reading back a key that is marked as
	// never leaving protected storage in the clear.
	ErrKeyNotReadable = errors.New("shw: key may not be read")

	// ErrBadBlob is returned when a wrapped key blob is truncated or carries
	// illegal header fields.
	ErrBadBlob = errors.New("shw: malformed key blob")

	// ErrNoResult is returned when a result is requested for a context that
	// has nothing outstanding.
	ErrNoResult = errors.New("shw: no result available")

	// ErrInternal is returned when the request layer reaches a state it
	// should never reach.
	ErrInternal = errors.New("shw: internal error")
)
