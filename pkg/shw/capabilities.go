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
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Capabilities describes what the request layer supports.
type Capabilities struct {
	HashAlgorithms []types.HashAlgorithm `json:"hash_algorithms"`
	KeyAlgorithms  []types.KeyAlgorithm  `json:"key_algorithms"`
	Modes          []types.CipherMode    `json:"modes"`
	BurstWidth     int                   `json:"burst_width"`
	PoolSize       int                   `json:"pool_size"`
	MaxHMACKey     int                   `json:"max_hmac_key"`
	MaxWrappedKey  int                   `json:"max_wrapped_key"`
	CCMNonce       [2]int                `json:"ccm_nonce"`
	CCMMAC         [2]int                `json:"ccm_mac"`
}

// Capabilities returns the engine's capabilities. They are computed on
// first use and shared afterwards; callers must not modify the slices.
func (e *Engine) Capabilities() Capabilities {
	e.capsOnce.Do(func() {
		e.caps = Capabilities{
			HashAlgorithms: []types.HashAlgorithm{
				types.HashMD5, types.HashSHA1, types.HashSHA224, types.HashSHA256,
			},
			KeyAlgorithms: []types.KeyAlgorithm{
				types.KeyAlgAES, types.KeyAlgDES, types.KeyAlgTDES, types.KeyAlgARC4, types.KeyAlgHMAC,
			},
			Modes: []types.CipherMode{
				types.ModeStream, types.ModeECB, types.ModeCBC, types.ModeCTR, types.ModeCCM,
			},
			BurstWidth:    e.burst,
			PoolSize:      types.DefaultPoolSize,
			MaxHMACKey:    types.HashBlockSize,
			MaxWrappedKey: MaxWrappedKey,
			CCMNonce:      [2]int{types.CCMMinNonce, types.CCMMaxNonce},
			CCMMAC:        [2]int{types.CCMMinMAC, types.CCMMaxMAC},
		}
	})
	return e.caps
}
