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

// Package keystore provides the protected key storage consumed by the
// request layer: a fixed pool of in-memory slots standing in for the
// accelerator's key RAM, and a persistent store on a storage.Backend for
// caller-supplied keystores.
//
// Both implement types.Keystore. Every slot belongs to the owner ID it was
// allocated for, is zeroed on deallocation, and can be encrypted in place
// under a key derived from the device secret and the owner ID.
package keystore

import (
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-shw/pkg/crypto/rand"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

const (
	// DefaultSlots is the number of slots in a SlotStore.
	DefaultSlots = 64

	// DefaultSlotSize is the capacity of each SlotStore slot.
	DefaultSlotSize = 64
)

// Config configures a keystore.
type Config struct {
	// Slots is the size of the slot pool. SlotStore only.
	Slots int

	// SlotSize is the maximum slot size in bytes. SlotStore only.
	SlotSize int

	// DeviceSecret is the device-bound secret. A random secret is
	// generated when empty, binding slots to the process.
	DeviceSecret []byte

	// RNG generates the device secret and sealing nonces.
	RNG rand.Resolver
}

type slot struct {
	owner types.OwnerID
	size  int
	data  []byte
	used  bool
}

// SlotStore is the system keystore: a fixed number of equally sized slots
// held in memory. Handles are 1-based slot indexes.
type SlotStore struct {
	mu       sync.Mutex
	slots    []slot
	slotSize int
	dev      *device
	closed   bool
}

var _ types.Keystore = (*SlotStore)(nil)

// NewSlotStore returns a SlotStore configured by cfg.
func NewSlotStore(cfg *Config) (*SlotStore, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	n := cfg.Slots
	if n <= 0 {
		n = DefaultSlots
	}
	size := cfg.SlotSize
	if size <= 0 {
		size = DefaultSlotSize
	}
	dev, err := newDevice(cfg.DeviceSecret, cfg.RNG)
	if err != nil {
		return nil, err
	}
	s := &SlotStore{
		slots:    make([]slot, n),
		slotSize: size,
		dev:      dev,
	}
	for i := range s.slots {
		s.slots[i].data = make([]byte, size)
	}
	return s, nil
}

// lookup returns the slot for handle after checking ownership. Callers
// hold s.mu.
func (s *SlotStore) lookup(owner types.OwnerID, handle types.Handle) (*slot, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if handle == 0 || int(handle) > len(s.slots) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	sl := &s.slots[handle-1]
	if !sl.used {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	if sl.owner != owner {
		return nil, fmt.Errorf("%w: slot %d", ErrOwnerMismatch, handle)
	}
	return sl, nil
}

// Allocate reserves a zeroed slot of size bytes for owner.
func (s *SlotStore) Allocate(owner types.OwnerID, size int) (types.Handle, error) {
	if size <= 0 || size > s.slotSize {
		return 0, fmt.Errorf("%w: slot of %d bytes (max %d)", types.ErrBadLength, size, s.slotSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.used {
			continue
		}
		sl.used, sl.owner, sl.size = true, owner, size
		clear(sl.data)
		return types.Handle(i + 1), nil
	}
	return 0, fmt.Errorf("%w: all %d keystore slots in use", types.ErrNoMemory, len(s.slots))
}

// Deallocate zeroes and frees the slot.
func (s *SlotStore) Deallocate(owner types.OwnerID, handle types.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(owner, handle)
	if err != nil {
		return err
	}
	clear(sl.data)
	sl.used, sl.owner, sl.size = false, 0, 0
	return nil
}

// Load writes data into the slot. len(data) must equal the slot size.
func (s *SlotStore) Load(owner types.OwnerID, handle types.Handle, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(owner, handle)
	if err != nil {
		return err
	}
	if len(data) != sl.size {
		return fmt.Errorf("%w: %d bytes into a %d byte slot", types.ErrBadLength, len(data), sl.size)
	}
	copy(sl.data, data)
	return nil
}

// Read returns a copy of the slot contents.
func (s *SlotStore) Read(owner types.OwnerID, handle types.Handle) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(owner, handle)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), sl.data[:sl.size]...), nil
}

// SlotSize returns the size the slot was allocated with.
func (s *SlotStore) SlotSize(owner types.OwnerID, handle types.Handle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(owner, handle)
	if err != nil {
		return 0, err
	}
	return sl.size, nil
}

// EncryptInPlace encrypts the slot under the owner's device key. The slot
// size must be a multiple of 16.
func (s *SlotStore) EncryptInPlace(owner types.OwnerID, handle types.Handle) error {
	return s.transform(owner, handle, false)
}

// DecryptInPlace reverses EncryptInPlace.
func (s *SlotStore) DecryptInPlace(owner types.OwnerID, handle types.Handle) error {
	return s.transform(owner, handle, true)
}

func (s *SlotStore) transform(owner types.OwnerID, handle types.Handle, decrypt bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(owner, handle)
	if err != nil {
		return err
	}
	return s.dev.transform(owner, sl.data[:sl.size], decrypt)
}

// InUse returns the number of allocated slots.
func (s *SlotStore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.slots {
		if s.slots[i].used {
			n++
		}
	}
	return n
}

// Close zeroes every slot and the device secret.
func (s *SlotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		clear(s.slots[i].data)
		s.slots[i].used = false
	}
	s.dev.wipe()
	s.closed = true
	return nil
}
