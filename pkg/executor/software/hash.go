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
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"fmt"
	"hash"

	sha256simd "github.com/minio/sha256-simd"

	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

const (
	ipad = 0x36
	opad = 0x5c
)

// Magic prefixes of the stdlib digest marshaling format. The saved
// context of the request layer is the state words and byte count of that
// format without the magic and the (always empty) partial block.
var hashMagic = map[types.HashAlgorithm]string{
	types.HashMD5:    "md5\x01",
	types.HashSHA1:   "sha\x01",
	types.HashSHA224: "sha\x02",
	types.HashSHA256: "sha\x03",
}

type stateHash interface {
	hash.Hash
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

func newHash(alg types.HashAlgorithm) (stateHash, error) {
	var h hash.Hash
	switch alg {
	case types.HashMD5:
		h = md5.New()
	case types.HashSHA1:
		h = sha1.New()
	case types.HashSHA224:
		h = sha256.New224()
	case types.HashSHA256:
		h = sha256simd.New()
		if _, ok := h.(stateHash); !ok {
			h = sha256.New()
		}
	default:
		return nil, fmt.Errorf("%w: hash %d", types.ErrBadAlgorithm, alg)
	}
	sh, ok := h.(stateHash)
	if !ok {
		return nil, fmt.Errorf("%w: %s state cannot be saved", types.ErrInternal, alg)
	}
	return sh, nil
}

// saveContext returns the chaining value and byte count of h. The hash
// unit can only save on a block boundary.
func saveContext(alg types.HashAlgorithm, h stateHash) ([]byte, error) {
	m, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	defer clear(m)
	magic := len(hashMagic[alg])
	state := alg.StateSize()
	if len(m) != magic+state+types.HashBlockSize+8 {
		return nil, fmt.Errorf("%w: unexpected %s state encoding", types.ErrInternal, alg)
	}
	count := binary.BigEndian.Uint64(m[len(m)-8:])
	if count%types.HashBlockSize != 0 {
		return nil, fmt.Errorf("%w: %s state saved after %d bytes", types.ErrBadLength, alg, count)
	}
	ctx := make([]byte, alg.ContextSize())
	copy(ctx, m[magic:magic+state])
	binary.BigEndian.PutUint64(ctx[state:], count)
	return ctx, nil
}

// loadContext returns a hash resumed from a saved context.
func loadContext(alg types.HashAlgorithm, ctx []byte) (stateHash, error) {
	if len(ctx) != alg.ContextSize() {
		return nil, fmt.Errorf("%w: %d byte %s context", types.ErrBadContext, len(ctx), alg)
	}
	state := alg.StateSize()
	count := binary.BigEndian.Uint64(ctx[state:])
	if count%types.HashBlockSize != 0 {
		return nil, fmt.Errorf("%w: %s context at %d bytes", types.ErrBadContext, alg, count)
	}
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	m := make([]byte, 0, len(hashMagic[alg])+state+types.HashBlockSize+8)
	m = append(m, hashMagic[alg]...)
	m = append(m, ctx[:state]...)
	m = append(m, make([]byte, types.HashBlockSize)...)
	m = binary.BigEndian.AppendUint64(m, count)
	defer clear(m)
	if err := h.UnmarshalBinary(m); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBadContext, err)
	}
	return h, nil
}

// hashUnit is the digest engine: the running hash plus the outer state of
// an HMAC.
type hashUnit struct {
	alg   types.HashAlgorithm
	cur   stateHash
	outer []byte
}

func (u *hashUnit) reset() {
	clear(u.outer)
	*u = hashUnit{}
}

// padKey derives the inner and outer HMAC states for key.
func padKey(alg types.HashAlgorithm, key []byte) (inner, outer stateHash, err error) {
	if len(key) == 0 || len(key) > types.HashBlockSize {
		return nil, nil, fmt.Errorf("%w: HMAC key of %d bytes", types.ErrBadKeyLength, len(key))
	}
	pad := make([]byte, types.HashBlockSize)
	defer clear(pad)
	if inner, err = newHash(alg); err != nil {
		return nil, nil, err
	}
	if outer, err = newHash(alg); err != nil {
		return nil, nil, err
	}
	copy(pad, key)
	for i := range pad {
		pad[i] ^= ipad
	}
	inner.Write(pad)
	for i := range pad {
		pad[i] ^= ipad ^ opad
	}
	outer.Write(pad)
	return inner, outer, nil
}

func (u *hashUnit) load(hdr chain.Header, state, outer *chain.Link) error {
	ctx, err := gather(state)
	if err != nil {
		return err
	}
	defer clear(ctx)
	h, err := loadContext(hdr.Hash, ctx)
	if err != nil {
		return err
	}
	u.reset()
	u.alg, u.cur = hdr.Hash, h
	if outer != nil {
		o, err := gather(outer)
		if err != nil {
			return err
		}
		if len(o) != hdr.Hash.ContextSize() {
			clear(o)
			return fmt.Errorf("%w: %d byte outer context", types.ErrBadContext, len(o))
		}
		u.outer = o
	}
	return nil
}

func (u *hashUnit) loadKey(hdr chain.Header, keyLink *chain.Link) error {
	key, err := gather(keyLink)
	if err != nil {
		return err
	}
	defer clear(key)
	inner, outer, err := padKey(hdr.Hash, key)
	if err != nil {
		return err
	}
	o, err := saveContext(hdr.Hash, outer)
	if err != nil {
		return err
	}
	u.reset()
	u.alg, u.cur, u.outer = hdr.Hash, inner, o
	return nil
}

func (u *hashUnit) precompute(hdr chain.Header, keyLink, out *chain.Link) error {
	key, err := gather(keyLink)
	if err != nil {
		return err
	}
	defer clear(key)
	inner, outer, err := padKey(hdr.Hash, key)
	if err != nil {
		return err
	}
	i, err := saveContext(hdr.Hash, inner)
	if err != nil {
		return err
	}
	defer clear(i)
	o, err := saveContext(hdr.Hash, outer)
	if err != nil {
		return err
	}
	defer clear(o)
	return scatter(out, append(i, o...))
}

func (u *hashUnit) hash(hdr chain.Header, in, out *chain.Link) error {
	if hdr.Has(chain.FlagInit) {
		h, err := newHash(hdr.Hash)
		if err != nil {
			return err
		}
		u.reset()
		u.alg, u.cur = hdr.Hash, h
	}
	if u.cur == nil || u.alg != hdr.Hash {
		return fmt.Errorf("%w: hash unit not loaded for %s", types.ErrInternal, hdr.Hash)
	}
	data, err := gather(in)
	if err != nil {
		return err
	}
	u.cur.Write(data)
	clear(data)

	if !hdr.Has(chain.FlagFinalize) {
		ctx, err := saveContext(u.alg, u.cur)
		if err != nil {
			return err
		}
		defer clear(ctx)
		return scatter(out, ctx)
	}

	sum := u.cur.Sum(nil)
	defer clear(sum)
	if hdr.Has(chain.FlagHMAC) {
		if u.outer == nil {
			return fmt.Errorf("%w: HMAC without outer state", types.ErrInternal)
		}
		o, err := loadContext(u.alg, u.outer)
		if err != nil {
			return err
		}
		o.Write(sum)
		clear(sum)
		sum = o.Sum(sum[:0])
	}
	n := chain.ChainLen(out)
	if n == 0 || n > len(sum) {
		return fmt.Errorf("%w: %d byte digest output", types.ErrBadLength, n)
	}
	return scatter(out, sum[:n])
}
