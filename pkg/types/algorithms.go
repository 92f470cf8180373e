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

import "strings"

// =============================================================================
// Hash Algorithms
// =============================================================================

// HashAlgorithm identifies a message digest supported by the hashing unit.
type HashAlgorithm uint8

const (
	// HashMD5 is MD5 (RFC 1321). Legacy; kept for protocol compatibility.
	HashMD5 HashAlgorithm = iota + 1

	// HashSHA1 is SHA-1 (FIPS 180-4).
	HashSHA1

	// HashSHA224 is SHA-224 (FIPS 180-4).
	HashSHA224

	// HashSHA256 is SHA-256 (FIPS 180-4).
	HashSHA256
)

// HashBlockSize is the compression-function block width shared by every
// supported hash algorithm. Streaming requests that save state must be a
// multiple of this length.
const HashBlockSize = 64

// hashCountSize is the width of the processed-byte counter appended to a
// saved hash context.
const hashCountSize = 8

// String returns the canonical algorithm name.
func (a HashAlgorithm) String() string {
	switch a {
	case HashMD5:
		return "MD5"
	case HashSHA1:
		return "SHA-1"
	case HashSHA224:
		return "SHA-224"
	case HashSHA256:
		return "SHA-256"
	default:
		return "unknown"
	}
}

// IsValid reports whether the algorithm is supported.
func (a HashAlgorithm) IsValid() bool {
	return a >= HashMD5 && a <= HashSHA256
}

// DigestSize returns the size of the final digest in bytes.
func (a HashAlgorithm) DigestSize() int {
	switch a {
	case HashMD5:
		return 16
	case HashSHA1:
		return 20
	case HashSHA224:
		return 28
	case HashSHA256:
		return 32
	default:
		return 0
	}
}

// StateSize returns the size of the intermediate chaining value in bytes.
// SHA-224 carries the full eight-word SHA-256 state between blocks.
func (a HashAlgorithm) StateSize() int {
	switch a {
	case HashMD5:
		return 16
	case HashSHA1:
		return 20
	case HashSHA224, HashSHA256:
		return 32
	default:
		return 0
	}
}

// ContextSize returns the size of a saved hash context: the chaining value
// followed by a big-endian count of bytes processed so far.
func (a HashAlgorithm) ContextSize() int {
	if !a.IsValid() {
		return 0
	}
	return a.StateSize() + hashCountSize
}

// ParseHashAlgorithm converts a name such as "sha256" or "SHA-256" to a
// HashAlgorithm. It returns 0 for unknown names.
func ParseHashAlgorithm(s string) HashAlgorithm {
	switch strings.ReplaceAll(strings.ToLower(s), "-", "") {
	case "md5":
		return HashMD5
	case "sha1":
		return HashSHA1
	case "sha224":
		return HashSHA224
	case "sha256":
		return HashSHA256
	default:
		return 0
	}
}

// MaxHashContextSize is the largest context any hash algorithm produces.
const MaxHashContextSize = 32 + hashCountSize

// =============================================================================
// Key Algorithms
// =============================================================================

// KeyAlgorithm identifies the cipher a key object is used with.
type KeyAlgorithm uint8

const (
	// KeyAlgAES is AES with 128, 192 or 256 bit keys.
	KeyAlgAES KeyAlgorithm = iota + 1

	// KeyAlgDES is single DES. Keys carry odd parity in the low bit of each byte.
	KeyAlgDES

	// KeyAlgTDES is two- or three-key Triple DES.
	KeyAlgTDES

	// KeyAlgARC4 is the ARC4 stream cipher.
	KeyAlgARC4

	// KeyAlgHMAC marks a key used only as an HMAC secret.
	KeyAlgHMAC
)

// String returns the canonical algorithm name.
func (a KeyAlgorithm) String() string {
	switch a {
	case KeyAlgAES:
		return "AES"
	case KeyAlgDES:
		return "DES"
	case KeyAlgTDES:
		return "3DES"
	case KeyAlgARC4:
		return "ARC4"
	case KeyAlgHMAC:
		return "HMAC"
	default:
		return "unknown"
	}
}

// IsValid reports whether the algorithm is supported.
func (a KeyAlgorithm) IsValid() bool {
	return a >= KeyAlgAES && a <= KeyAlgHMAC
}

// BlockSize returns the cipher block size in bytes. Stream ciphers report 1
// and HMAC keys report 0.
func (a KeyAlgorithm) BlockSize() int {
	switch a {
	case KeyAlgAES:
		return 16
	case KeyAlgDES, KeyAlgTDES:
		return 8
	case KeyAlgARC4:
		return 1
	default:
		return 0
	}
}

// ValidKeyLength reports whether n is a legal key length for the algorithm.
func (a KeyAlgorithm) ValidKeyLength(n int) bool {
	switch a {
	case KeyAlgAES:
		return n == 16 || n == 24 || n == 32
	case KeyAlgDES:
		return n == 8
	case KeyAlgTDES:
		return n == 16 || n == 24
	case KeyAlgARC4:
		return n >= 1 && n <= 256
	case KeyAlgHMAC:
		return n >= 1 && n <= HashBlockSize
	default:
		return false
	}
}

// ParseKeyAlgorithm converts a name such as "aes" or "3des" to a
// KeyAlgorithm. It returns 0 for unknown names.
func ParseKeyAlgorithm(s string) KeyAlgorithm {
	switch strings.ToLower(s) {
	case "aes":
		return KeyAlgAES
	case "des":
		return KeyAlgDES
	case "3des", "tdes":
		return KeyAlgTDES
	case "arc4", "rc4":
		return KeyAlgARC4
	case "hmac":
		return KeyAlgHMAC
	default:
		return 0
	}
}

// =============================================================================
// Cipher Modes
// =============================================================================

// CipherMode selects how the cipher unit processes data.
type CipherMode uint8

const (
	// ModeStream is used with stream ciphers (ARC4).
	ModeStream CipherMode = iota + 1

	// ModeECB is electronic codebook.
	ModeECB

	// ModeCBC is cipher block chaining. The context holds the IV.
	ModeCBC

	// ModeCTR is counter mode. The context holds the counter block.
	ModeCTR

	// ModeCCM is the combined counter-with-CBC-MAC transform.
	ModeCCM
)

// String returns the canonical mode name.
func (m CipherMode) String() string {
	switch m {
	case ModeStream:
		return "STREAM"
	case ModeECB:
		return "ECB"
	case ModeCBC:
		return "CBC"
	case ModeCTR:
		return "CTR"
	case ModeCCM:
		return "CCM"
	default:
		return "unknown"
	}
}

// ParseCipherMode converts a name such as "cbc" to a CipherMode.
// It returns 0 for unknown names.
func ParseCipherMode(s string) CipherMode {
	switch strings.ToLower(s) {
	case "stream":
		return ModeStream
	case "ecb":
		return ModeECB
	case "cbc":
		return ModeCBC
	case "ctr":
		return ModeCTR
	case "ccm":
		return ModeCCM
	default:
		return 0
	}
}

// ARC4ContextSize is the size of a saved ARC4 permutation: S[256] || i || j.
const ARC4ContextSize = 258

// MaxSymContextSize is the largest context any symmetric mode produces.
const MaxSymContextSize = ARC4ContextSize

// SymContextSize returns the context size for an algorithm/mode pair, or 0
// when the combination carries no context.
func SymContextSize(alg KeyAlgorithm, mode CipherMode) int {
	switch {
	case alg == KeyAlgARC4 && mode == ModeStream:
		return ARC4ContextSize
	case alg == KeyAlgARC4:
		return 0
	case mode == ModeCBC || mode == ModeCTR:
		return alg.BlockSize()
	default:
		return 0
	}
}

// ValidMode reports whether the algorithm can run in the given mode.
func (a KeyAlgorithm) ValidMode(m CipherMode) bool {
	switch a {
	case KeyAlgARC4:
		return m == ModeStream
	case KeyAlgAES:
		return m == ModeECB || m == ModeCBC || m == ModeCTR || m == ModeCCM
	case KeyAlgDES, KeyAlgTDES:
		return m == ModeECB || m == ModeCBC || m == ModeCTR
	default:
		return false
	}
}
