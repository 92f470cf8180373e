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

	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// gather reads a link chain into one new buffer. Slot segments are read
// through their keystore. The caller must clear the result.
func gather(l *chain.Link) ([]byte, error) {
	buf := make([]byte, 0, chain.ChainLen(l))
	for ; l != nil; l = l.Next {
		if l.Slot == nil {
			buf = append(buf, l.Data...)
			continue
		}
		s := l.Slot
		b, err := s.Store.Read(s.Owner, s.Handle)
		if err != nil {
			clear(buf)
			return nil, err
		}
		if len(b) < s.Length {
			clear(b)
			clear(buf)
			return nil, fmt.Errorf("%w: slot %d holds %d bytes, link wants %d",
				types.ErrBadLength, s.Handle, len(b), s.Length)
		}
		buf = append(buf, b[:s.Length]...)
		clear(b)
	}
	return buf, nil
}

// scatter writes data across a writable link chain whose total length must
// equal len(data).
func scatter(l *chain.Link, data []byte) error {
	if n := chain.ChainLen(l); n != len(data) {
		return fmt.Errorf("%w: %d bytes for a %d byte output", types.ErrBadLength, len(data), n)
	}
	for ; l != nil; l = l.Next {
		if !l.Writable {
			return fmt.Errorf("%w: write to read-only link", types.ErrInternal)
		}
		n := l.Len()
		if l.Slot == nil {
			copy(l.Data, data[:n])
		} else if err := loadSlot(l.Slot, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// loadSlot writes data into the first len(data) bytes of a slot, keeping
// the remainder of a larger slot intact.
func loadSlot(s *chain.SlotRef, data []byte) error {
	size, err := s.Store.SlotSize(s.Owner, s.Handle)
	if err != nil {
		return err
	}
	if size == len(data) {
		return s.Store.Load(s.Owner, s.Handle, data)
	}
	cur, err := s.Store.Read(s.Owner, s.Handle)
	if err != nil {
		return err
	}
	defer clear(cur)
	if len(cur) < len(data) {
		return fmt.Errorf("%w: %d bytes into a %d byte slot", types.ErrBadLength, len(data), len(cur))
	}
	copy(cur, data)
	return s.Store.Load(s.Owner, s.Handle, cur)
}
