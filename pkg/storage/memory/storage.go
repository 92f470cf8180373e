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

// Package memory provides an in-memory storage.Backend for keystore slots.
// Values are copied on the way in and out, and zeroed when they are
// overwritten, deleted or the store is closed.
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-shw/pkg/storage"
)

// Storage is an in-memory implementation of storage.Backend.
type Storage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// New creates a new in-memory storage backend.
func New() storage.Backend {
	return &Storage{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the value for key.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	value, exists := s.data[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Put stores a copy of value under key. The Options are accepted for
// interface compatibility and otherwise ignored.
func (s *Storage) Put(key string, value []byte, opts *storage.Options) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	clear(s.data[key])
	s.data[key] = append(make([]byte, 0, len(value)), value...)
	return nil
}

// Delete zeroes and removes the value for key.
func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	value, exists := s.data[key]
	if !exists {
		return storage.ErrNotFound
	}
	clear(value)
	delete(s.data, key)
	return nil
}

// List returns all keys with the given prefix in sorted order.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	keys := make([]string, 0)
	for key := range s.data {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists checks if a key exists in storage.
func (s *Storage) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, storage.ErrClosed
	}

	_, exists := s.data[key]
	return exists, nil
}

// Close zeroes every value and marks the store closed. After Close, all
// other operations return storage.ErrClosed. Close is idempotent.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.data {
		clear(v)
	}
	s.closed = true
	s.data = nil
	return nil
}
