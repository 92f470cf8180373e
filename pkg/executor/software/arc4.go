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
	"fmt"

	"github.com/jeremyhahn/go-shw/pkg/types"
)

// arc4 keeps the permutation in the layout the context stores it in:
// S[256] || i || j. crypto/rc4 does not expose its state, which the
// stream context has to save and restore.
type arc4 struct {
	s    [256]byte
	i, j uint8
}

func newARC4(key []byte) (*arc4, error) {
	if !types.KeyAlgARC4.ValidKeyLength(len(key)) {
		return nil, fmt.Errorf("%w: ARC4 key of %d bytes", types.ErrBadKeyLength, len(key))
	}
	c := &arc4{}
	for i := range c.s {
		c.s[i] = uint8(i)
	}
	var j uint8
	for i := range c.s {
		j += c.s[i] + key[i%len(key)]
		c.s[i], c.s[j] = c.s[j], c.s[i]
	}
	return c, nil
}

func loadARC4(state []byte) (*arc4, error) {
	if len(state) != types.ARC4ContextSize {
		return nil, fmt.Errorf("%w: %d byte ARC4 state", types.ErrBadContext, len(state))
	}
	c := &arc4{i: state[256], j: state[257]}
	copy(c.s[:], state[:256])
	return c, nil
}

func (c *arc4) save() []byte {
	out := make([]byte, types.ARC4ContextSize)
	copy(out, c.s[:])
	out[256], out[257] = c.i, c.j
	return out
}

func (c *arc4) xorKeyStream(dst, src []byte) {
	i, j := c.i, c.j
	for k, v := range src {
		i++
		j += c.s[i]
		c.s[i], c.s[j] = c.s[j], c.s[i]
		dst[k] = v ^ c.s[c.s[i]+c.s[j]]
	}
	c.i, c.j = i, j
}

func (c *arc4) wipe() {
	clear(c.s[:])
	c.i, c.j = 0, 0
}
