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
	"context"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/metrics"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

func checkHMACKey(key *types.KeyObject) error {
	if key == nil || (!key.IsPresent() && !key.IsEstablished()) {
		return types.ErrKeyNotPresent
	}
	if n := key.Length(); n < 1 || n > types.HashBlockSize {
		return fmt.Errorf("%w: HMAC key of %d bytes", types.ErrBadKeyLength, n)
	}
	return nil
}

// HMACPrecompute derives the inner and outer partial hash states of key
// into hc and marks them present. Later HMAC requests on hc start from the
// precomputes and no longer need the key.
func (e *Engine) HMACPrecompute(ctx context.Context, uc *types.UserContext, hc *types.HMACContext, key *types.KeyObject) (err error) {
	start := time.Now()
	defer func() { observe(metrics.OpHMACPrecompute, pending(uc), start, err) }()

	if err := checkUser(uc); err != nil {
		return err
	}
	if hc == nil {
		return fmt.Errorf("%w: HMAC context", types.ErrBadContext)
	}
	if !hc.Algorithm.IsValid() {
		return fmt.Errorf("%w: hash %d", types.ErrBadAlgorithm, hc.Algorithm)
	}
	if err := checkHMACKey(key); err != nil {
		return err
	}

	r := e.newRequest(metrics.OpHMACPrecompute, uc)
	defer r.b.Abort()
	if err := e.buildPrecompute(r.b, uc, hc, key); err != nil {
		return err
	}
	r.prep = func(h *chain.Head) {
		h.Done = func() error {
			hc.Flags |= types.HMACFlagPrecomputesPresent
			return nil
		}
	}
	return e.submit(ctx, r)
}

func (e *Engine) buildPrecompute(b *chain.Builder, uc *types.UserContext, hc *types.HMACContext, key *types.KeyObject) error {
	kl, err := e.keyLink(b, uc, key)
	if err != nil {
		return err
	}
	inner, err := b.Output(hc.InnerState())
	if err != nil {
		return err
	}
	outer, err := b.Output(hc.OuterState())
	if err != nil {
		return err
	}
	return b.Add(chain.Header{Opcode: chain.OpHMACPrecompute, Hash: hc.Algorithm}, kl, chain.Append(inner, outer))
}

// HMAC authenticates msg. Exactly one of HMACFlagInit and HMACFlagLoad and
// at least one of HMACFlagSave and HMACFlagFinalize must be set.
//
// Init starts from the precomputes in hc when present and from key
// otherwise. Load resumes the ongoing state saved by an earlier request
// and requires the precomputes. Save writes the ongoing state back to hc
// and needs len(msg) to be a multiple of 64. Finalize writes the MAC,
// truncated to len(mac), to mac.
//
// A streaming MAC started from a bare key also stores the key's
// precomputes in hc so it can be resumed without the key.
func (e *Engine) HMAC(ctx context.Context, uc *types.UserContext, hc *types.HMACContext, key *types.KeyObject, msg, mac []byte) (err error) {
	start := time.Now()
	defer func() { observe(metrics.OpHMAC, pending(uc), start, err) }()

	if err := checkUser(uc); err != nil {
		return err
	}
	if hc == nil {
		return fmt.Errorf("%w: HMAC context", types.ErrBadContext)
	}
	alg := hc.Algorithm
	if !alg.IsValid() {
		return fmt.Errorf("%w: hash %d", types.ErrBadAlgorithm, alg)
	}
	init := hc.Flags&types.HMACFlagInit != 0
	load := hc.Flags&types.HMACFlagLoad != 0
	save := hc.Flags&types.HMACFlagSave != 0
	final := hc.Flags&types.HMACFlagFinalize != 0
	precomputed := hc.Flags&types.HMACFlagPrecomputesPresent != 0
	if init == load {
		return fmt.Errorf("%w: exactly one of init and load is required", types.ErrBadFlags)
	}
	if !save && !final {
		return fmt.Errorf("%w: neither save nor finalize requested", types.ErrBadFlags)
	}
	if load && !precomputed {
		return fmt.Errorf("%w: resuming a MAC needs its precomputes", types.ErrBadContext)
	}
	if init && !precomputed {
		if err := checkHMACKey(key); err != nil {
			return err
		}
	}
	if save && len(msg)%types.HashBlockSize != 0 {
		return fmt.Errorf("%w: %d bytes cannot be saved mid-block", types.ErrBadLength, len(msg))
	}
	if final && (len(mac) == 0 || len(mac) > alg.DigestSize()) {
		return fmt.Errorf("%w: %d byte %s MAC", types.ErrBadLength, len(mac), alg)
	}

	r := e.newRequest(metrics.OpHMAC, uc)
	defer r.b.Abort()
	b := r.b
	hdr := chain.Header{Hash: alg}
	switch {
	case precomputed:
		state := hc.InnerState()
		if load {
			state = hc.OngoingState()
		}
		in, err := b.Input(state)
		if err != nil {
			return err
		}
		outer, err := b.Input(hc.OuterState())
		if err != nil {
			return err
		}
		hdr.Opcode = chain.OpHashLoad
		if err := b.Add(hdr, in, outer); err != nil {
			return err
		}
	default:
		if save {
			if err := e.buildPrecompute(b, uc, hc, key); err != nil {
				return err
			}
			r.prep = func(h *chain.Head) {
				h.Done = func() error {
					hc.Flags |= types.HMACFlagPrecomputesPresent
					return nil
				}
			}
		}
		kl, err := e.keyLink(b, uc, key)
		if err != nil {
			return err
		}
		hdr.Opcode = chain.OpHMACLoadKey
		if err := b.Add(hdr, kl, nil); err != nil {
			return err
		}
	}

	// The unit is loaded; continue as a hash step over the ongoing state.
	if err := e.buildHash(b, alg, hc.OngoingState(), false, false, save, final, msg, mac, chain.FlagHMAC); err != nil {
		return err
	}
	return e.submit(ctx, r)
}
