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

package keystore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-shw/pkg/crypto/rand"
	"github.com/jeremyhahn/go-shw/pkg/storage"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// DefaultBackendSlotSize bounds slots of a BackendStore when no size is
// configured.
const DefaultBackendSlotSize = 256

// BackendStore keeps slots in a storage.Backend. Over a persistent backend
// they survive restarts.
// Each slot is sealed with AES-GCM under a key derived from the device
// secret and the owner ID, with the slot path as associated data. A slot
// addressed with the wrong owner is not found and is reported as an
// invalid handle.
type BackendStore struct {
	mu      sync.Mutex
	backend storage.Backend
	dev     *device
	rng     rand.Resolver
	maxSize int
	next    types.Handle
	closed  bool
}

var _ types.Keystore = (*BackendStore)(nil)

// NewBackendStore returns a keystore persisting to backend. Handles continue
// after the highest handle already present in the backend.
func NewBackendStore(backend storage.Backend, cfg *Config) (*BackendStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("keystore: storage backend is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	rng := cfg.RNG
	if rng == nil {
		var err error
		if rng, err = rand.NewResolver(rand.ModeSoftware); err != nil {
			return nil, err
		}
	}
	dev, err := newDevice(cfg.DeviceSecret, rng)
	if err != nil {
		return nil, err
	}
	maxSize := cfg.SlotSize
	if maxSize <= 0 {
		maxSize = DefaultBackendSlotSize
	}

	keys, err := backend.List(storage.SlotPrefix)
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to list slots: %w", err)
	}
	var next types.Handle
	for _, k := range keys {
		if _, h, err := storage.ParseSlotPath(k); err == nil && types.Handle(h) > next {
			next = types.Handle(h)
		}
	}

	return &BackendStore{
		backend: backend,
		dev:     dev,
		rng:     rng,
		maxSize: maxSize,
		next:    next,
	}, nil
}

func path(owner types.OwnerID, handle types.Handle) string {
	return storage.SlotPath(uint64(owner), uint32(handle))
}

// get loads and unseals a slot. Callers hold s.mu.
func (s *BackendStore) get(owner types.OwnerID, handle types.Handle) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	p := path(owner, handle)
	sealed, err := s.backend.Get(p)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
		}
		return nil, err
	}
	return s.dev.open(owner, p, sealed)
}

// put seals and stores a slot. Callers hold s.mu.
func (s *BackendStore) put(owner types.OwnerID, handle types.Handle, data []byte) error {
	p := path(owner, handle)
	sealed, err := s.dev.seal(owner, p, data, s.rng)
	if err != nil {
		return err
	}
	return s.backend.Put(p, sealed, storage.DefaultOptions())
}

// Allocate creates a zeroed slot of size bytes for owner.
func (s *BackendStore) Allocate(owner types.OwnerID, size int) (types.Handle, error) {
	if size <= 0 || size > s.maxSize {
		return 0, fmt.Errorf("%w: slot of %d bytes (max %d)", types.ErrBadLength, size, s.maxSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.next == ^types.Handle(0) {
		return 0, fmt.Errorf("%w: keystore handles exhausted", types.ErrNoMemory)
	}
	h := s.next + 1
	if err := s.put(owner, h, make([]byte, size)); err != nil {
		return 0, err
	}
	s.next = h
	return h, nil
}

// Deallocate removes the slot. The backend zeroes the stored value.
func (s *BackendStore) Deallocate(owner types.OwnerID, handle types.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.get(owner, handle)
	if err != nil {
		return err
	}
	clear(data)
	return s.backend.Delete(path(owner, handle))
}

// Load replaces the slot contents. len(data) must equal the slot size.
func (s *BackendStore) Load(owner types.OwnerID, handle types.Handle, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(owner, handle)
	if err != nil {
		return err
	}
	defer clear(cur)
	if len(data) != len(cur) {
		return fmt.Errorf("%w: %d bytes into a %d byte slot", types.ErrBadLength, len(data), len(cur))
	}
	return s.put(owner, handle, data)
}

// Read returns the slot contents.
func (s *BackendStore) Read(owner types.OwnerID, handle types.Handle) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(owner, handle)
}

// SlotSize returns the size the slot was allocated with.
func (s *BackendStore) SlotSize(owner types.OwnerID, handle types.Handle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.get(owner, handle)
	if err != nil {
		return 0, err
	}
	clear(data)
	return len(data), nil
}

// EncryptInPlace encrypts the slot under the owner's device key. The slot
// size must be a multiple of 16.
func (s *BackendStore) EncryptInPlace(owner types.OwnerID, handle types.Handle) error {
	return s.transform(owner, handle, false)
}

// DecryptInPlace reverses EncryptInPlace.
func (s *BackendStore) DecryptInPlace(owner types.OwnerID, handle types.Handle) error {
	return s.transform(owner, handle, true)
}

func (s *BackendStore) transform(owner types.OwnerID, handle types.Handle, decrypt bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.get(owner, handle)
	if err != nil {
		return err
	}
	defer clear(data)
	if err := s.dev.transform(owner, data, decrypt); err != nil {
		return err
	}
	return s.put(owner, handle, data)
}

// Handles returns the handles of every slot owner holds.
func (s *BackendStore) Handles(owner types.OwnerID) ([]types.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	raw, err := storage.ListSlots(s.backend, uint64(owner))
	if err != nil {
		return nil, err
	}
	out := make([]types.Handle, len(raw))
	for i, h := range raw {
		out[i] = types.Handle(h)
	}
	return out, nil
}

// Close wipes the device secret. The backend is left open; it belongs to
// the caller.
func (s *BackendStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dev.wipe()
	s.closed = true
	return nil
}
