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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/metrics"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

const ccmBlockSize = 16

// FormatCCM returns the first CBC-MAC block B0 and the initial counter
// block of a CCM message (NIST SP 800-38C, appendix A). The payload length
// field is 15-len(nonce) bytes wide.
func FormatCCM(nonce []byte, payloadLen uint64, hasAAD bool, macLen int) (b0, ctr0 [ccmBlockSize]byte, err error) {
	if len(nonce) < types.CCMMinNonce || len(nonce) > types.CCMMaxNonce {
		return b0, ctr0, fmt.Errorf("%w: nonce of %d bytes", types.ErrBadLength, len(nonce))
	}
	if macLen < types.CCMMinMAC || macLen > types.CCMMaxMAC || macLen%2 != 0 {
		return b0, ctr0, fmt.Errorf("%w: MAC of %d bytes", types.ErrBadLength, macLen)
	}
	q := 15 - len(nonce)
	if q < 8 && payloadLen >= 1<<(8*q) {
		return b0, ctr0, fmt.Errorf("%w: payload of %d bytes with a %d byte length field",
			types.ErrBadLength, payloadLen, q)
	}

	var flags byte
	if hasAAD {
		flags = 0x40
	}
	flags |= byte((macLen-2)/2) << 3
	flags |= byte(q - 1)
	b0[0] = flags
	copy(b0[1:], nonce)
	for i := 0; i < q; i++ {
		b0[ccmBlockSize-1-i] = byte(payloadLen >> (8 * i))
	}

	ctr0[0] = byte(q - 1)
	copy(ctr0[1:], nonce)
	return b0, ctr0, nil
}

// ccmAADLength returns the encoded length prefix of the associated data.
func ccmAADLength(n uint64) ([]byte, error) {
	switch {
	case n == 0:
		return nil, nil
	case n < 0xff00:
		return binary.BigEndian.AppendUint16(nil, uint16(n)), nil
	case n < 1<<32:
		return binary.BigEndian.AppendUint32([]byte{0xff, 0xfe}, uint32(n)), nil
	default:
		return nil, fmt.Errorf("%w: %d bytes of associated data", types.ErrBadLength, n)
	}
}

// AuthEncrypt encrypts in into out under CCM and writes the MAC to tag,
// which must be ac.MACLength bytes. aad is authenticated but not
// encrypted.
func (e *Engine) AuthEncrypt(ctx context.Context, uc *types.UserContext, ac *types.AuthContext, key *types.KeyObject, aad, in, out, tag []byte) (err error) {
	start := time.Now()
	defer func() { observe(metrics.OpAuthEncrypt, pending(uc), start, err) }()
	return e.ccm(ctx, metrics.OpAuthEncrypt, uc, ac, key, aad, in, out, tag, false)
}

// AuthDecrypt decrypts in into out under CCM and verifies tag. On a
// mismatch it returns types.ErrAuthFailed and zeroes out. For non-blocking
// contexts the comparison happens when the result is collected.
func (e *Engine) AuthDecrypt(ctx context.Context, uc *types.UserContext, ac *types.AuthContext, key *types.KeyObject, aad, in, out, tag []byte) (err error) {
	start := time.Now()
	defer func() { observe(metrics.OpAuthDecrypt, pending(uc), start, err) }()
	return e.ccm(ctx, metrics.OpAuthDecrypt, uc, ac, key, aad, in, out, tag, true)
}

// ccm runs a CCM request as one chain:
//
//  1. load counter block 0 and the key in CTR mode
//  2. encrypt a dummy block to step the counter to block 1
//  3. CBC-MAC the preamble (B0, AAD length, AAD, zero padding), output
//     discarded
//  4. run the payload through the combined CCM transform
//  5. save the MAC, reload counter block 0 and encrypt the MAC into tag
//     or decrypt tag for comparison with the MAC
func (e *Engine) ccm(ctx context.Context, op string, uc *types.UserContext, ac *types.AuthContext, key *types.KeyObject, aad, in, out, tag []byte, decrypt bool) error {
	if err := checkUser(uc); err != nil {
		return err
	}
	if ac == nil {
		return fmt.Errorf("%w: auth context", types.ErrBadContext)
	}
	if ac.Mode != types.ModeCCM {
		return fmt.Errorf("%w: %s is not an authenticated mode", types.ErrBadMode, ac.Mode)
	}
	if err := checkCipherKey(key); err != nil {
		return err
	}
	if key.Algorithm != types.KeyAlgAES {
		return fmt.Errorf("%w: CCM needs AES, got %s", types.ErrBadAlgorithm, key.Algorithm)
	}
	if len(in) != len(out) {
		return fmt.Errorf("%w: %d bytes in, %d bytes out", types.ErrBadLength, len(in), len(out))
	}
	macLen := ac.MACLength
	if len(tag) != macLen {
		return fmt.Errorf("%w: %d byte tag for a %d byte MAC", types.ErrBadLength, len(tag), macLen)
	}
	b0, ctr0, err := FormatCCM(ac.Nonce, uint64(len(in)), len(aad) > 0, macLen)
	if err != nil {
		return err
	}
	aadLen, err := ccmAADLength(uint64(len(aad)))
	if err != nil {
		return err
	}
	hdr, err := cipherHeader(key, types.ModeCTR, 8*ac.LengthFieldSize())
	if err != nil {
		return err
	}

	r := e.newRequest(op, uc)
	defer r.b.Abort()
	b := r.b

	// 1. Counter block 0 and key.
	c0, err := b.Copy(ctr0[:])
	if err != nil {
		return err
	}
	kl, err := e.keyLink(b, uc, key)
	if err != nil {
		return err
	}
	if err := b.Add(withOp(hdr, chain.OpCipherLoad), c0, kl); err != nil {
		return err
	}

	// 2. Step past block 0.
	dummy, err := b.Scratch(ccmBlockSize, true)
	if err != nil {
		return err
	}
	dummyIn, err := b.Ref(dummy, false)
	if err != nil {
		return err
	}
	if err := b.Add(withOp(hdr, chain.OpCipher), dummyIn, dummy); err != nil {
		return err
	}

	// 3. Preamble through CBC; only the chaining value is kept.
	preamble, err := b.Copy(append(b0[:], aadLen...))
	if err != nil {
		return err
	}
	ad, err := b.Input(aad)
	if err != nil {
		return err
	}
	n := ccmBlockSize + len(aadLen) + len(aad)
	var padding *chain.Link
	if pad := (ccmBlockSize - n%ccmBlockSize) % ccmBlockSize; pad > 0 {
		if padding, err = b.Scratch(pad, false); err != nil {
			return err
		}
		n += pad
	}
	discard, err := b.Scratch(n, true)
	if err != nil {
		return err
	}
	cbc := hdr
	cbc.Mode = types.ModeCBC
	if err := b.Add(withOp(cbc, chain.OpCipher), chain.Append(preamble, ad, padding), discard); err != nil {
		return err
	}

	// 4. Payload.
	src, err := b.Input(in)
	if err != nil {
		return err
	}
	dst, err := b.Output(out)
	if err != nil {
		return err
	}
	payload := hdr
	payload.Mode = types.ModeCCM
	payload.Opcode = chain.OpCipher
	if decrypt {
		payload.Flags |= chain.FlagDecrypt
	}
	if err := b.Add(payload, src, dst); err != nil {
		return err
	}

	// 5. MAC out, counter block 0 back in, then the tag.
	mac, err := b.Scratch(ccmBlockSize, true)
	if err != nil {
		return err
	}
	payload.Opcode = chain.OpCipherSave
	payload.Flags &^= chain.FlagDecrypt
	if err := b.Add(payload, nil, mac); err != nil {
		return err
	}
	c0, err = b.Copy(ctr0[:])
	if err != nil {
		return err
	}
	if err := b.Add(withOp(hdr, chain.OpCipherLoad), c0, nil); err != nil {
		return err
	}

	var check *chain.Check
	if !decrypt {
		macIn, err := b.Ref(mac, false)
		if err != nil {
			return err
		}
		tagOut, err := b.Output(tag)
		if err != nil {
			return err
		}
		if macLen < ccmBlockSize {
			sink, err := b.Scratch(ccmBlockSize-macLen, true)
			if err != nil {
				return err
			}
			tagOut = chain.Append(tagOut, sink)
		}
		if err := b.Add(withOp(hdr, chain.OpCipher), macIn, tagOut); err != nil {
			return err
		}
	} else {
		tagIn, err := b.Input(tag)
		if err != nil {
			return err
		}
		if macLen < ccmBlockSize {
			zeros, err := b.Scratch(ccmBlockSize-macLen, false)
			if err != nil {
				return err
			}
			tagIn = chain.Append(tagIn, zeros)
		}
		received, err := b.Scratch(ccmBlockSize, true)
		if err != nil {
			return err
		}
		if err := b.Add(withOp(hdr, chain.OpCipher), tagIn, received); err != nil {
			return err
		}
		check = &chain.Check{
			Computed: mac.Data[:macLen],
			Received: received.Data[:macLen],
			Wipe:     [][]byte{out},
		}
	}
	r.prep = func(h *chain.Head) { h.Check = check }
	return e.submit(ctx, r)
}

func withOp(hdr chain.Header, op chain.Opcode) chain.Header {
	hdr.Opcode = op
	return hdr
}
