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
	"golang.org/x/sync/semaphore"
)

// UserFlags select how requests made through a UserContext complete.
type UserFlags uint32

const (
	// UserFlagBlocking makes every request wait for the hardware and for any
	// post-hardware verification before returning.
	UserFlagBlocking UserFlags = 1 << iota

	// UserFlagCallback invokes UserContext.Callback when a non-blocking
	// request completes. Results are still collected with Results.
	UserFlagCallback
)

// DefaultPoolSize bounds outstanding non-blocking requests per context when
// no explicit size is given.
const DefaultPoolSize = 50

// UserContext identifies a caller of the request layer. It selects blocking
// or non-blocking completion, carries an opaque caller reference returned
// with every result, optionally overrides the system keystore, and bounds
// the number of outstanding non-blocking requests.
type UserContext struct {
	Flags UserFlags

	// Callback is called from the executor's goroutine when a non-blocking
	// request completes and UserFlagCallback is set.
	Callback func(uc *UserContext)

	// Ref is returned untouched in each Result.
	Ref any

	// Keystore, when set, is used instead of the engine's system keystore.
	Keystore Keystore

	poolSize int64
	pool     *semaphore.Weighted
}

// NewUserContext returns a user context with the given flags and pool size.
// A pool size of zero selects DefaultPoolSize.
func NewUserContext(flags UserFlags, poolSize int) *UserContext {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &UserContext{
		Flags:    flags,
		poolSize: int64(poolSize),
		pool:     semaphore.NewWeighted(int64(poolSize)),
	}
}

// IsBlocking reports whether requests wait for completion.
func (uc *UserContext) IsBlocking() bool {
	return uc.Flags&UserFlagBlocking != 0
}

// PoolSize returns the maximum number of outstanding non-blocking requests.
func (uc *UserContext) PoolSize() int {
	return int(uc.poolSize)
}

// Acquire reserves a pool slot for a non-blocking request. It returns
// ErrPoolFull when every slot is in use.
func (uc *UserContext) Acquire() error {
	if uc.pool == nil {
		return ErrBadContext
	}
	if !uc.pool.TryAcquire(1) {
		return ErrPoolFull
	}
	return nil
}

// Release returns a pool slot taken by Acquire.
func (uc *UserContext) Release() {
	if uc.pool != nil {
		uc.pool.Release(1)
	}
}

// Valid reports whether the context was built with NewUserContext.
func (uc *UserContext) Valid() bool {
	return uc != nil && uc.pool != nil
}

// Blocking returns a blocking copy of the context that shares its keystore
// and reference. It is used for internal multi-chain protocols.
func (uc *UserContext) Blocking() *UserContext {
	return &UserContext{
		Flags:    UserFlagBlocking,
		Ref:      uc.Ref,
		Keystore: uc.Keystore,
		poolSize: uc.poolSize,
		pool:     uc.pool,
	}
}

// Result reports the outcome of a completed request.
type Result struct {
	// RequestID is the correlation ID assigned when the request was built.
	RequestID string

	// Ref is the UserContext.Ref of the submitting context.
	Ref any

	// Err is nil on success, ErrAuthFailed on a failed tag check, or the
	// executor's error.
	Err error
}
