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

package chain

import (
	"fmt"
	"math/bits"

	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Opcode selects the unit and operation a descriptor drives. The roles of
// Link1 and Link2 depend on the opcode.
type Opcode uint8

const (
	// OpRNG fills Link2 with random bytes.
	OpRNG Opcode = iota + 1

	// OpHashLoad loads a saved hash state from Link1. For HMAC, Link2
	// carries the outer precompute.
	OpHashLoad

	// OpHash hashes Link1 and writes the saved state or digest to Link2.
	OpHash

	// OpHMACLoadKey derives the inner and outer states from the key in Link1.
	OpHMACLoadKey

	// OpHMACPrecompute derives the inner and outer states from the key in
	// Link1 and writes them, inner first, to Link2.
	OpHMACPrecompute

	// OpCipherLoad loads the cipher context from Link1 and the key from
	// Link2. Either may be absent: an absent context resets the IV and
	// counter, an absent key keeps the loaded key.
	OpCipherLoad

	// OpCipher transforms Link1 into Link2.
	OpCipher

	// OpCipherSave writes the cipher context (IV, counter, CCM MAC or ARC4
	// permutation) to Link2.
	OpCipherSave
)

// String returns a short name for the opcode.
func (o Opcode) String() string {
	switch o {
	case OpRNG:
		return "rng"
	case OpHashLoad:
		return "hash-load"
	case OpHash:
		return "hash"
	case OpHMACLoadKey:
		return "hmac-load-key"
	case OpHMACPrecompute:
		return "hmac-precompute"
	case OpCipherLoad:
		return "cipher-load"
	case OpCipher:
		return "cipher"
	case OpCipherSave:
		return "cipher-save"
	default:
		return fmt.Sprintf("opcode(%d)", o)
	}
}

// HeaderFlags modify an opcode.
type HeaderFlags uint8

const (
	// FlagInit starts a hash from its initial state, or builds a fresh ARC4
	// permutation from the key.
	FlagInit HeaderFlags = 1 << iota

	// FlagFinalize pads the message and emits the digest or MAC.
	FlagFinalize

	// FlagHMAC runs the hash as HMAC using the loaded inner/outer states.
	FlagHMAC

	// FlagDecrypt selects the decrypt direction of the cipher unit.
	FlagDecrypt

	// FlagSkipParity disables the DES key parity check.
	FlagSkipParity
)

// Header is the opcode/mode word of a descriptor.
type Header struct {
	Opcode Opcode
	Hash   types.HashAlgorithm
	Key    types.KeyAlgorithm
	Mode   types.CipherMode
	Flags  HeaderFlags

	// Modulus is the CTR counter width in bytes minus one (0 = 8 bits,
	// 15 = 128 bits).
	Modulus uint8
}

// Has reports whether every flag in f is set.
func (h Header) Has(f HeaderFlags) bool {
	return h.Flags&f == f
}

// WithModulus returns h with the CTR counter width set to modBits, which
// must be a multiple of 8 between 8 and 128.
func (h Header) WithModulus(modBits int) (Header, error) {
	if modBits < 8 || modBits > 128 || modBits%8 != 0 {
		return h, fmt.Errorf("%w: counter modulus of %d bits", types.ErrBadMode, modBits)
	}
	h.Modulus = uint8(modBits/8 - 1)
	return h, nil
}

// ModulusBits returns the CTR counter width in bits.
func (h Header) ModulusBits() int {
	return (int(h.Modulus) + 1) * 8
}

// Encode packs the header into the 32-bit word the accelerator reads:
// opcode in bits 0-3, hash algorithm 4-7, key algorithm 8-11, mode 12-15,
// flags 16-23 and counter modulus 24-27. Bit 31 gives the word odd parity.
func (h Header) Encode() uint32 {
	w := uint32(h.Opcode&0x0f) |
		uint32(h.Hash&0x0f)<<4 |
		uint32(h.Key&0x0f)<<8 |
		uint32(h.Mode&0x0f)<<12 |
		uint32(h.Flags)<<16 |
		uint32(h.Modulus&0x0f)<<24
	if bits.OnesCount32(w)%2 == 0 {
		w |= 1 << 31
	}
	return w
}

// DecodeHeader unpacks a header word, rejecting words with even parity.
func DecodeHeader(w uint32) (Header, error) {
	if bits.OnesCount32(w)%2 == 0 {
		return Header{}, fmt.Errorf("%w: header %#08x has even parity", types.ErrInternal, w)
	}
	return Header{
		Opcode:  Opcode(w & 0x0f),
		Hash:    types.HashAlgorithm(w >> 4 & 0x0f),
		Key:     types.KeyAlgorithm(w >> 8 & 0x0f),
		Mode:    types.CipherMode(w >> 12 & 0x0f),
		Flags:   HeaderFlags(w >> 16 & 0xff),
		Modulus: uint8(w >> 24 & 0x0f),
	}, nil
}
