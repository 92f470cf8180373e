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

// SymmetricEncrypt encrypts in into out, which must be the same length.
func (e *Engine) SymmetricEncrypt(ctx context.Context, uc *types.UserContext, sc *types.SymContext, key *types.KeyObject, in, out []byte) (err error) {
	start := time.Now()
	defer func() { observe(metrics.OpSymmetricEncrypt, pending(uc), start, err) }()
	return e.symmetric(ctx, metrics.OpSymmetricEncrypt, uc, sc, key, in, out, false)
}

// SymmetricDecrypt decrypts in into out, which must be the same length.
func (e *Engine) SymmetricDecrypt(ctx context.Context, uc *types.UserContext, sc *types.SymContext, key *types.KeyObject, in, out []byte) (err error) {
	start := time.Now()
	defer func() { observe(metrics.OpSymmetricDecrypt, pending(uc), start, err) }()
	return e.symmetric(ctx, metrics.OpSymmetricDecrypt, uc, sc, key, in, out, true)
}

// cipherHeader returns the header shared by the descriptors of a cipher
// request.
func cipherHeader(key *types.KeyObject, mode types.CipherMode, modBits int) (chain.Header, error) {
	hdr := chain.Header{Key: key.Algorithm, Mode: mode}
	if key.Flags&types.KeyFlagIgnoreParity != 0 {
		hdr.Flags |= chain.FlagSkipParity
	}
	return hdr.WithModulus(modBits)
}

func checkCipherKey(key *types.KeyObject) error {
	if key == nil || (!key.IsPresent() && !key.IsEstablished()) {
		return types.ErrKeyNotPresent
	}
	if !key.Algorithm.IsValid() || key.Algorithm == types.KeyAlgHMAC {
		return fmt.Errorf("%w: %s is not a cipher", types.ErrBadAlgorithm, key.Algorithm)
	}
	if !key.Algorithm.ValidKeyLength(key.Length()) {
		return fmt.Errorf("%w: %d bytes for %s", types.ErrBadKeyLength, key.Length(), key.Algorithm)
	}
	return nil
}

func (e *Engine) symmetric(ctx context.Context, op string, uc *types.UserContext, sc *types.SymContext, key *types.KeyObject, in, out []byte, decrypt bool) error {
	if err := checkUser(uc); err != nil {
		return err
	}
	if sc == nil {
		return fmt.Errorf("%w: symmetric context", types.ErrBadContext)
	}
	if err := checkCipherKey(key); err != nil {
		return err
	}
	alg, mode := key.Algorithm, sc.Mode
	if mode == types.ModeCCM || !alg.ValidMode(mode) {
		return fmt.Errorf("%w: %s with %s", types.ErrBadMode, alg, mode)
	}
	if len(in) != len(out) {
		return fmt.Errorf("%w: %d bytes in, %d bytes out", types.ErrBadLength, len(in), len(out))
	}
	bs := alg.BlockSize()
	if (mode == types.ModeECB || mode == types.ModeCBC) && len(in)%bs != 0 {
		return fmt.Errorf("%w: %s needs a multiple of %d bytes, got %d", types.ErrBadLength, mode, bs, len(in))
	}

	init := sc.Flags&types.SymFlagInit != 0
	load := sc.Flags&types.SymFlagLoad != 0
	save := sc.Flags&types.SymFlagSave != 0
	switch mode {
	case types.ModeStream:
		if init == load {
			return fmt.Errorf("%w: ARC4 needs exactly one of init and load", types.ErrBadFlags)
		}
	case types.ModeECB:
		if init || load || save {
			return fmt.Errorf("%w: ECB carries no context", types.ErrBadFlags)
		}
	default:
		if init {
			return fmt.Errorf("%w: init applies to stream ciphers only", types.ErrBadFlags)
		}
	}

	hdr, err := cipherHeader(key, mode, sc.Modulus())
	if err != nil {
		return err
	}

	r := e.newRequest(op, uc)
	defer r.b.Abort()
	b := r.b

	var ctxIn *chain.Link
	if load {
		if ctxIn, err = b.Input(sc.State(alg)); err != nil {
			return err
		}
	}
	kl, err := e.keyLink(b, uc, key)
	if err != nil {
		return err
	}
	loadHdr := hdr
	loadHdr.Opcode = chain.OpCipherLoad
	if init {
		loadHdr.Flags |= chain.FlagInit
	}
	if err := b.Add(loadHdr, ctxIn, kl); err != nil {
		return err
	}

	src, err := b.Input(in)
	if err != nil {
		return err
	}
	dst, err := b.Output(out)
	if err != nil {
		return err
	}
	if mode == types.ModeCTR {
		// The CTR path moves whole blocks only. Pad the input with zeros
		// and send the surplus output to a discard buffer.
		if pad := (bs - len(in)%bs) % bs; pad > 0 {
			zeros, err := b.Scratch(pad, false)
			if err != nil {
				return err
			}
			sink, err := b.Scratch(pad, true)
			if err != nil {
				return err
			}
			src = chain.Append(src, zeros)
			dst = chain.Append(dst, sink)
		}
	}
	runHdr := hdr
	runHdr.Opcode = chain.OpCipher
	if decrypt {
		runHdr.Flags |= chain.FlagDecrypt
	}
	if err := b.Add(runHdr, src, dst); err != nil {
		return err
	}

	if save {
		ctxOut, err := b.Output(sc.State(alg))
		if err != nil {
			return err
		}
		saveHdr := hdr
		saveHdr.Opcode = chain.OpCipherSave
		if err := b.Add(saveHdr, nil, ctxOut); err != nil {
			return err
		}
	}
	return e.submit(ctx, r)
}
