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

package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// SlotPrefix is the namespace of keystore slots.
const SlotPrefix = "slots/"

// OwnerPrefix returns the namespace of one owner's slots:
// slots/{owner as 16 hex digits}/
func OwnerPrefix(owner uint64) string {
	return fmt.Sprintf("%s%016x/", SlotPrefix, owner)
}

// SlotPath returns the storage path of a slot:
// slots/{owner as 16 hex digits}/{handle}.slot
func SlotPath(owner uint64, handle uint32) string {
	return OwnerPrefix(owner) + strconv.FormatUint(uint64(handle), 10) + ".slot"
}

// ParseSlotPath is the inverse of SlotPath.
func ParseSlotPath(path string) (owner uint64, handle uint32, err error) {
	rest, ok := strings.CutPrefix(path, SlotPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, path)
	}
	o, h, ok := strings.Cut(rest, "/")
	if !ok || len(o) != 16 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, path)
	}
	h, ok = strings.CutSuffix(h, ".slot")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, path)
	}
	owner, err = strconv.ParseUint(o, 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, path)
	}
	hv, err := strconv.ParseUint(h, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, path)
	}
	return owner, uint32(hv), nil
}

// ListSlots returns the handles of every slot stored for owner.
func ListSlots(backend Backend, owner uint64) ([]uint32, error) {
	keys, err := backend.List(OwnerPrefix(owner))
	if err != nil {
		return nil, err
	}
	handles := make([]uint32, 0, len(keys))
	for _, k := range keys {
		o, h, err := ParseSlotPath(k)
		if err != nil || o != owner {
			continue
		}
		handles = append(handles, h)
	}
	return handles, nil
}
