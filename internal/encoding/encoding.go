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

// Package encoding converts wrapped key blobs and raw byte strings to and
// from the text forms used on the command line.
//
// Wrapped keys are stored as PEM blocks of type "SHW WRAPPED KEY". The
// block carries the owner ID and key algorithm as headers so a blob can be
// matched to its owner before it is handed to the engine; the blob itself
// is authenticated by its ICV, not by the headers.
package encoding

import (
	"bytes"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-shw/pkg/shw"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// WrappedKeyBlockType is the PEM block type of a wrapped key.
const WrappedKeyBlockType = "SHW WRAPPED KEY"

const (
	headerOwner     = "Owner"
	headerAlgorithm = "Algorithm"
)

var (
	// ErrInvalidEncodingPEM is returned when PEM decoding fails.
	ErrInvalidEncodingPEM = errors.New("invalid PEM encoding")

	// ErrInvalidBlockType is returned for a PEM block that is not a wrapped key.
	ErrInvalidBlockType = errors.New("invalid PEM block type")

	// ErrInvalidHeader is returned when a wrapped key header is missing or
	// disagrees with the blob.
	ErrInvalidHeader = errors.New("invalid wrapped key header")

	// ErrInvalidHex is returned when a hex string cannot be decoded.
	ErrInvalidHex = errors.New("invalid hex encoding")
)

// WrappedKey is a decoded wrapped key blob and the owner it was wrapped for.
type WrappedKey struct {
	Owner     types.OwnerID
	Algorithm types.KeyAlgorithm
	Blob      []byte
}

// EncodeWrappedKeyPEM encodes a blob produced by Engine.ExtractKey.
func EncodeWrappedKeyPEM(owner types.OwnerID, blob []byte) ([]byte, error) {
	if len(blob) <= shw.WrapHeaderSize {
		return nil, fmt.Errorf("%w: %d byte blob", types.ErrBadBlob, len(blob))
	}
	alg := types.KeyAlgorithm(blob[shw.WrapHeaderSize-2])

	buf := new(bytes.Buffer)
	if err := pem.Encode(buf, &pem.Block{
		Type: WrappedKeyBlockType,
		Headers: map[string]string{
			headerOwner:     fmt.Sprintf("%#x", uint64(owner)),
			headerAlgorithm: alg.String(),
		},
		Bytes: blob,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode PEM: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWrappedKeyPEM decodes the first wrapped key block in pemData.
func DecodeWrappedKeyPEM(pemData []byte) (*WrappedKey, error) {
	if len(pemData) == 0 {
		return nil, errors.New("PEM data cannot be empty")
	}
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidEncodingPEM
	}
	if block.Type != WrappedKeyBlockType {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBlockType, block.Type)
	}
	if len(block.Bytes) <= shw.WrapHeaderSize {
		return nil, fmt.Errorf("%w: %d byte blob", types.ErrBadBlob, len(block.Bytes))
	}

	owner, err := strconv.ParseUint(block.Headers[headerOwner], 0, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: owner %q", ErrInvalidHeader, block.Headers[headerOwner])
	}
	alg := types.ParseKeyAlgorithm(block.Headers[headerAlgorithm])
	if alg == 0 || byte(alg) != block.Bytes[shw.WrapHeaderSize-2] {
		return nil, fmt.Errorf("%w: algorithm %q", ErrInvalidHeader, block.Headers[headerAlgorithm])
	}
	return &WrappedKey{
		Owner:     types.OwnerID(owner),
		Algorithm: alg,
		Blob:      block.Bytes,
	}, nil
}

// DecodeHex decodes a hex string. Whitespace, colons and an optional 0x
// prefix are ignored.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}
