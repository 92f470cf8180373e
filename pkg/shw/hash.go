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

// Hash digests msg with the algorithm of hc.
//
// The flags of hc select the request type:
//
//	Init|Finalize  one-shot, any length
//	Init|Save      start of a stream, len(msg) a multiple of 64
//	Load|Save      middle of a stream, len(msg) a multiple of 64
//	Load|Finalize  end of a stream, any length
//
// Save writes the intermediate state to hc; Finalize writes the digest,
// truncated to len(out), to out. Save and Finalize may be combined, in
// which case the state is saved before the digest is produced.
func (e *Engine) Hash(ctx context.Context, uc *types.UserContext, hc *types.HashContext, msg, out []byte) (err error) {
	start := time.Now()
	defer func() { observe(metrics.OpHash, pending(uc), start, err) }()

	if err := checkUser(uc); err != nil {
		return err
	}
	if hc == nil {
		return fmt.Errorf("%w: hash context", types.ErrBadContext)
	}
	if !hc.Algorithm.IsValid() {
		return fmt.Errorf("%w: hash %d", types.ErrBadAlgorithm, hc.Algorithm)
	}
	init := hc.Flags&types.HashFlagInit != 0
	load := hc.Flags&types.HashFlagLoad != 0
	save := hc.Flags&types.HashFlagSave != 0
	final := hc.Flags&types.HashFlagFinalize != 0
	if init == load {
		return fmt.Errorf("%w: exactly one of init and load is required", types.ErrBadFlags)
	}
	if !save && !final {
		return fmt.Errorf("%w: neither save nor finalize requested", types.ErrBadFlags)
	}
	if save && len(msg)%types.HashBlockSize != 0 {
		return fmt.Errorf("%w: %d bytes cannot be saved mid-block", types.ErrBadLength, len(msg))
	}
	if final && (len(out) == 0 || len(out) > hc.Algorithm.DigestSize()) {
		return fmt.Errorf("%w: %d byte %s digest", types.ErrBadLength, len(out), hc.Algorithm)
	}

	r := e.newRequest(metrics.OpHash, uc)
	defer r.b.Abort()
	if err := e.buildHash(r.b, hc.Algorithm, hc.State(), init, load, save, final, msg, out, 0); err != nil {
		return err
	}
	return e.submit(ctx, r)
}

// buildHash adds the descriptors of one hash or HMAC step. state is the
// context loaded when load is set and saved to when save is set. With
// neither init nor load the unit must already hold a running hash. mac
// adds FlagHMAC to the finalizing descriptor.
func (e *Engine) buildHash(b *chain.Builder, alg types.HashAlgorithm, state []byte, init, load, save, final bool, msg, out []byte, mac chain.HeaderFlags) error {
	hdr := chain.Header{Hash: alg}
	if load {
		in, err := b.Input(state)
		if err != nil {
			return err
		}
		hdr.Opcode = chain.OpHashLoad
		if err := b.Add(hdr, in, nil); err != nil {
			return err
		}
	}

	in, err := b.Input(msg)
	if err != nil {
		return err
	}
	hdr.Opcode = chain.OpHash
	if init {
		hdr.Flags |= chain.FlagInit
	}
	if save {
		dst, err := b.Output(state)
		if err != nil {
			return err
		}
		if err := b.Add(hdr, in, dst); err != nil {
			return err
		}
		if !final {
			return nil
		}
		// The message has been consumed; finalize over no further data.
		hdr.Flags &^= chain.FlagInit
		in = nil
	}
	dst, err := b.Output(out)
	if err != nil {
		return err
	}
	hdr.Flags |= chain.FlagFinalize | mac
	return b.Add(hdr, in, dst)
}
