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

package software

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"errors"
	"fmt"
	"math/bits"

	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// ErrKeyParity is returned when a DES or 3DES key byte has even parity and
// the descriptor does not skip the check.
var ErrKeyParity = errors.New("software: DES key parity error")

// cipherUnit is the block/stream cipher engine. It keeps the loaded key,
// the chaining register (CBC IV or running CCM MAC) and the counter
// register between descriptors of one chain.
type cipherUnit struct {
	alg     types.KeyAlgorithm
	block   cipher.Block
	arc4Key []byte
	stream  *arc4
	iv      [aes.BlockSize]byte
	ctr     [aes.BlockSize]byte
	modBits int
}

func (u *cipherUnit) reset() {
	clear(u.arc4Key)
	if u.stream != nil {
		u.stream.wipe()
	}
	*u = cipherUnit{}
}

func checkParity(key []byte) error {
	for i, b := range key {
		if bits.OnesCount8(b)%2 == 0 {
			return fmt.Errorf("%w: byte %d", ErrKeyParity, i)
		}
	}
	return nil
}

func newBlock(alg types.KeyAlgorithm, key []byte, parity bool) (cipher.Block, error) {
	if !alg.ValidKeyLength(len(key)) {
		return nil, fmt.Errorf("%w: %d bytes for %s", types.ErrBadKeyLength, len(key), alg)
	}
	switch alg {
	case types.KeyAlgAES:
		return aes.NewCipher(key)
	case types.KeyAlgDES:
		if parity {
			if err := checkParity(key); err != nil {
				return nil, err
			}
		}
		return des.NewCipher(key)
	case types.KeyAlgTDES:
		if parity {
			if err := checkParity(key); err != nil {
				return nil, err
			}
		}
		k := make([]byte, 0, 24)
		k = append(k, key...)
		if len(key) == 16 {
			k = append(k, key[:8]...)
		}
		defer clear(k)
		return des.NewTripleDESCipher(k)
	default:
		return nil, fmt.Errorf("%w: %s is not a block cipher", types.ErrBadAlgorithm, alg)
	}
}

func (u *cipherUnit) load(hdr chain.Header, ctxLink, keyLink *chain.Link) error {
	if keyLink != nil {
		key, err := gather(keyLink)
		if err != nil {
			return err
		}
		defer clear(key)
		u.reset()
		if hdr.Key == types.KeyAlgARC4 {
			if !hdr.Key.ValidKeyLength(len(key)) {
				return fmt.Errorf("%w: ARC4 key of %d bytes", types.ErrBadKeyLength, len(key))
			}
			u.arc4Key = append([]byte(nil), key...)
		} else {
			block, err := newBlock(hdr.Key, key, !hdr.Has(chain.FlagSkipParity))
			if err != nil {
				return err
			}
			u.block = block
		}
		u.alg = hdr.Key
	} else if u.alg != hdr.Key {
		return fmt.Errorf("%w: no %s key loaded", types.ErrInternal, hdr.Key)
	}
	u.modBits = hdr.ModulusBits()

	if hdr.Mode == types.ModeStream {
		if hdr.Has(chain.FlagInit) {
			if u.arc4Key == nil {
				return fmt.Errorf("%w: ARC4 init without key", types.ErrInternal)
			}
			s, err := newARC4(u.arc4Key)
			if err != nil {
				return err
			}
			u.stream = s
			return nil
		}
		state, err := gather(ctxLink)
		if err != nil {
			return err
		}
		defer clear(state)
		s, err := loadARC4(state)
		if err != nil {
			return err
		}
		u.stream = s
		return nil
	}

	if u.block == nil {
		return fmt.Errorf("%w: %s needs a block cipher", types.ErrBadMode, hdr.Mode)
	}
	clear(u.iv[:])
	clear(u.ctr[:])
	if ctxLink == nil {
		return nil
	}
	ctx, err := gather(ctxLink)
	if err != nil {
		return err
	}
	defer clear(ctx)
	bs := u.block.BlockSize()
	if len(ctx) != bs {
		return fmt.Errorf("%w: %d byte context for a %d byte block", types.ErrBadContext, len(ctx), bs)
	}
	switch hdr.Mode {
	case types.ModeCBC:
		copy(u.iv[:], ctx)
	case types.ModeCTR, types.ModeCCM:
		copy(u.ctr[:], ctx)
	}
	return nil
}

// incCounter advances the low modBits bits of ctr, wrapping within them.
func incCounter(ctr []byte, modBits int) {
	n := min(modBits/8, len(ctr))
	for i := len(ctr) - 1; i >= len(ctr)-n; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			return
		}
	}
}

func (u *cipherUnit) cipher(hdr chain.Header, in, out *chain.Link) error {
	data, err := gather(in)
	if err != nil {
		return err
	}
	defer clear(data)
	if n := chain.ChainLen(out); n != len(data) {
		return fmt.Errorf("%w: %d bytes in, %d bytes out", types.ErrBadLength, len(data), n)
	}
	res := make([]byte, len(data))
	defer clear(res)
	decrypt := hdr.Has(chain.FlagDecrypt)

	switch hdr.Mode {
	case types.ModeStream:
		if u.stream == nil {
			return fmt.Errorf("%w: no ARC4 state loaded", types.ErrInternal)
		}
		u.stream.xorKeyStream(res, data)
	case types.ModeECB, types.ModeCBC, types.ModeCTR:
		if u.block == nil {
			return fmt.Errorf("%w: no block cipher loaded", types.ErrInternal)
		}
		bs := u.block.BlockSize()
		if len(data)%bs != 0 {
			return fmt.Errorf("%w: %s transfer of %d bytes is not block aligned",
				types.ErrBadLength, hdr.Mode, len(data))
		}
		switch hdr.Mode {
		case types.ModeECB:
			for off := 0; off < len(data); off += bs {
				if decrypt {
					u.block.Decrypt(res[off:off+bs], data[off:off+bs])
				} else {
					u.block.Encrypt(res[off:off+bs], data[off:off+bs])
				}
			}
		case types.ModeCBC:
			if len(data) == 0 {
				break
			}
			iv := u.iv[:bs]
			if decrypt {
				next := append([]byte(nil), data[len(data)-bs:]...)
				cipher.NewCBCDecrypter(u.block, iv).CryptBlocks(res, data)
				copy(iv, next)
			} else {
				cipher.NewCBCEncrypter(u.block, iv).CryptBlocks(res, data)
				copy(iv, res[len(res)-bs:])
			}
		case types.ModeCTR:
			u.ctrStream(res, data)
		}
	case types.ModeCCM:
		if u.block == nil || u.block.BlockSize() != aes.BlockSize {
			return fmt.Errorf("%w: CCM needs a 128-bit block cipher", types.ErrBadMode)
		}
		u.ccm(res, data, decrypt)
	default:
		return fmt.Errorf("%w: mode %d", types.ErrBadMode, hdr.Mode)
	}
	return scatter(out, res)
}

func (u *cipherUnit) ctrStream(dst, src []byte) {
	bs := u.block.BlockSize()
	ks := make([]byte, bs)
	defer clear(ks)
	ctr := u.ctr[:bs]
	for off := 0; off < len(src); off += bs {
		u.block.Encrypt(ks, ctr)
		incCounter(ctr, u.modBits)
		for k := 0; k < bs && off+k < len(src); k++ {
			dst[off+k] = src[off+k] ^ ks[k]
		}
	}
}

// ccm runs the combined CTR-encrypt and CBC-MAC pass. The MAC register is
// u.iv and covers the plaintext zero-padded to a whole block.
func (u *cipherUnit) ccm(dst, src []byte, decrypt bool) {
	var ks, p [aes.BlockSize]byte
	defer clear(ks[:])
	defer clear(p[:])
	for off := 0; off < len(src); off += aes.BlockSize {
		end := min(off+aes.BlockSize, len(src))
		u.block.Encrypt(ks[:], u.ctr[:])
		incCounter(u.ctr[:], u.modBits)
		for k := off; k < end; k++ {
			dst[k] = src[k] ^ ks[k-off]
		}
		clear(p[:])
		if decrypt {
			copy(p[:], dst[off:end])
		} else {
			copy(p[:], src[off:end])
		}
		for k := range p {
			u.iv[k] ^= p[k]
		}
		u.block.Encrypt(u.iv[:], u.iv[:])
	}
}

func (u *cipherUnit) save(hdr chain.Header, out *chain.Link) error {
	var ctx []byte
	switch hdr.Mode {
	case types.ModeStream:
		if u.stream == nil {
			return fmt.Errorf("%w: no ARC4 state loaded", types.ErrInternal)
		}
		ctx = u.stream.save()
		defer clear(ctx)
	case types.ModeCBC, types.ModeCTR, types.ModeCCM:
		if u.block == nil {
			return fmt.Errorf("%w: no block cipher loaded", types.ErrInternal)
		}
		bs := u.block.BlockSize()
		if hdr.Mode == types.ModeCTR {
			ctx = u.ctr[:bs]
		} else {
			ctx = u.iv[:bs]
		}
	default:
		return fmt.Errorf("%w: %s has no context", types.ErrBadMode, hdr.Mode)
	}
	return scatter(out, ctx)
}
