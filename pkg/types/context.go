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

// =============================================================================
// Hash Context
// =============================================================================

// HashFlags control how a hash request treats its context.
type HashFlags uint32

const (
	// HashFlagInit starts from the algorithm's initial state.
	HashFlagInit HashFlags = 1 << iota

	// HashFlagLoad resumes from the state saved in the context.
	HashFlagLoad

	// HashFlagSave writes the resulting state back to the context.
	HashFlagSave

	// HashFlagFinalize pads the message and produces the digest.
	HashFlagFinalize
)

// HashContext carries a hash algorithm selection and, for streaming
// requests, the intermediate state between calls.
type HashContext struct {
	Algorithm HashAlgorithm
	Flags     HashFlags
	Context   [MaxHashContextSize]byte
}

// NewHashContext returns a hash context for alg with the given flags.
func NewHashContext(alg HashAlgorithm, flags HashFlags) *HashContext {
	return &HashContext{Algorithm: alg, Flags: flags}
}

// State returns the algorithm-sized view of the saved context.
func (c *HashContext) State() []byte {
	return c.Context[:c.Algorithm.ContextSize()]
}

// SetFlags replaces the context flags. Streaming callers switch from
// Init|Save to Load|Save to Load|Finalize between calls.
func (c *HashContext) SetFlags(flags HashFlags) {
	c.Flags = flags
}

// =============================================================================
// HMAC Context
// =============================================================================

// HMACFlags control how an HMAC request treats its context.
type HMACFlags uint32

const (
	// HMACFlagInit starts a new MAC, from the precomputes when present or
	// from the key otherwise.
	HMACFlagInit HMACFlags = 1 << iota

	// HMACFlagLoad resumes from the saved ongoing state.
	HMACFlagLoad

	// HMACFlagSave writes the ongoing state back to the context.
	HMACFlagSave

	// HMACFlagFinalize produces the MAC.
	HMACFlagFinalize

	// HMACFlagPrecomputesPresent marks Inner and Outer as valid.
	HMACFlagPrecomputesPresent
)

// HMACContext carries the inner and outer precomputes of an HMAC key and
// the ongoing inner state of a streaming MAC.
type HMACContext struct {
	Algorithm HashAlgorithm
	Flags     HMACFlags
	Inner     [MaxHashContextSize]byte
	Outer     [MaxHashContextSize]byte
	Ongoing   [MaxHashContextSize]byte
}

// NewHMACContext returns an HMAC context for alg with the given flags.
func NewHMACContext(alg HashAlgorithm, flags HMACFlags) *HMACContext {
	return &HMACContext{Algorithm: alg, Flags: flags}
}

// InnerState returns the algorithm-sized inner precompute.
func (c *HMACContext) InnerState() []byte {
	return c.Inner[:c.Algorithm.ContextSize()]
}

// OuterState returns the algorithm-sized outer precompute.
func (c *HMACContext) OuterState() []byte {
	return c.Outer[:c.Algorithm.ContextSize()]
}

// OngoingState returns the algorithm-sized ongoing inner state.
func (c *HMACContext) OngoingState() []byte {
	return c.Ongoing[:c.Algorithm.ContextSize()]
}

// SetFlags replaces the request flags while preserving
// HMACFlagPrecomputesPresent.
func (c *HMACContext) SetFlags(flags HMACFlags) {
	c.Flags = (c.Flags & HMACFlagPrecomputesPresent) | (flags &^ HMACFlagPrecomputesPresent)
}

// =============================================================================
// Symmetric Context
// =============================================================================

// SymFlags control how a symmetric request treats its context.
type SymFlags uint32

const (
	// SymFlagInit builds a fresh ARC4 permutation from the key.
	SymFlagInit SymFlags = 1 << iota

	// SymFlagLoad loads the IV, counter or permutation from the context.
	SymFlagLoad

	// SymFlagSave writes the final IV, counter or permutation to the context.
	SymFlagSave
)

// SymContext carries a cipher mode and the chaining state of a symmetric
// request: the IV for CBC, the counter block for CTR and the permutation
// for ARC4.
type SymContext struct {
	Mode  CipherMode
	Flags SymFlags

	// CounterModulus is the width in bits of the CTR counter, 8 to 128 in
	// steps of 8. Zero selects 128.
	CounterModulus int

	Context [MaxSymContextSize]byte
}

// NewSymContext returns a symmetric context for mode with the given flags.
func NewSymContext(mode CipherMode, flags SymFlags) *SymContext {
	return &SymContext{Mode: mode, Flags: flags}
}

// SetContext copies an IV, counter or permutation into the context and
// sets SymFlagLoad.
func (c *SymContext) SetContext(b []byte) error {
	if len(b) > len(c.Context) {
		return fmt.Errorf("%w: context of %d bytes", ErrBadLength, len(b))
	}
	clear(c.Context[:])
	copy(c.Context[:], b)
	c.Flags |= SymFlagLoad
	return nil
}

// State returns the context bytes used for alg in the context's mode.
func (c *SymContext) State(alg KeyAlgorithm) []byte {
	return c.Context[:SymContextSize(alg, c.Mode)]
}

// Modulus returns the effective CTR counter width in bits.
func (c *SymContext) Modulus() int {
	if c.CounterModulus == 0 {
		return 128
	}
	return c.CounterModulus
}

// =============================================================================
// Authentication Context
// =============================================================================

// CCM parameter limits (NIST SP 800-38C).
const (
	CCMMinNonce = 7
	CCMMaxNonce = 13
	CCMMinMAC   = 4
	CCMMaxMAC   = 16
)

// AuthContext carries the parameters of an authenticated-encryption request.
// Only CCM is supported.
type AuthContext struct {
	Mode      CipherMode
	Nonce     []byte
	MACLength int
}

// NewCCMContext returns a CCM context. The nonce is copied. Its length fixes
// the width of the payload length field: 15 - len(nonce) bytes.
func NewCCMContext(nonce []byte, macLen int) (*AuthContext, error) {
	ac := &AuthContext{Mode: ModeCCM}
	if err := ac.SetCCM(nonce, macLen); err != nil {
		return nil, err
	}
	return ac, nil
}

// SetCCM validates and stores the CCM nonce and MAC length.
func (c *AuthContext) SetCCM(nonce []byte, macLen int) error {
	if len(nonce) < CCMMinNonce || len(nonce) > CCMMaxNonce {
		return fmt.Errorf("%w: nonce of %d bytes", ErrBadLength, len(nonce))
	}
	if macLen < CCMMinMAC || macLen > CCMMaxMAC || macLen%2 != 0 {
		return fmt.Errorf("%w: MAC of %d bytes", ErrBadLength, macLen)
	}
	c.Mode = ModeCCM
	c.Nonce = append([]byte(nil), nonce...)
	c.MACLength = macLen
	return nil
}

// LengthFieldSize returns q, the width in bytes of the CCM payload length
// field.
func (c *AuthContext) LengthFieldSize() int {
	return 15 - len(c.Nonce)
}
