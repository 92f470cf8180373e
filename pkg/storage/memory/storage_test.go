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

package memory

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jeremyhahn/go-shw/pkg/storage"
)

func TestNew(t *testing.T) {
	store := New()
	if store == nil {
		t.Fatal("New() returned nil")
	}

	keys, err := store.List("")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("New store should be empty, got %d keys", len(keys))
	}
}

func TestPutGet(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value []byte
	}{
		{"simple", "test-key", []byte("test-value")},
		{"empty value", "empty", []byte{}},
		{"binary", "binary", []byte{0x00, 0x01, 0x02, 0xFF}},
		{"slot path", storage.SlotPath(0x1234, 1), bytes.Repeat([]byte{0xAA}, 32)},
	}

	store := New()
	defer store.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Put(tt.key, tt.value, nil); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			got, err := store.Get(tt.key)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !bytes.Equal(got, tt.value) {
				t.Errorf("Get() = %x, want %x", got, tt.value)
			}
		})
	}
}

func TestPut_EmptyKey(t *testing.T) {
	store := New()
	if err := store.Put("", []byte{1}, nil); !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("Put() error = %v, want %v", err, storage.ErrInvalidKey)
	}
}

func TestDefensiveCopies(t *testing.T) {
	store := New()
	defer store.Close()

	value := []byte{1, 2, 3}
	if err := store.Put("k", value, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	value[0] = 9

	got, _ := store.Get("k")
	if got[0] != 1 {
		t.Fatal("stored value changed with the caller's buffer")
	}
	got[1] = 9

	again, _ := store.Get("k")
	if again[1] != 2 {
		t.Fatal("stored value changed with a returned buffer")
	}
}

func TestOverwriteAndDeleteZeroValue(t *testing.T) {
	s := New().(*Storage)

	if err := s.Put("k", []byte{1, 2, 3}, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	old := s.data["k"]
	if err := s.Put("k", []byte{4, 5, 6}, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !bytes.Equal(old, []byte{0, 0, 0}) {
		t.Errorf("overwritten value = %x, want zeroes", old)
	}

	cur := s.data["k"]
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !bytes.Equal(cur, []byte{0, 0, 0}) {
		t.Errorf("deleted value = %x, want zeroes", cur)
	}
	if err := s.Delete("k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete() error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestList(t *testing.T) {
	store := New()
	defer store.Close()

	for _, k := range []string{"slots/b", "slots/a", "other"} {
		if err := store.Put(k, []byte{1}, nil); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	keys, err := store.List("slots/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if fmt.Sprint(keys) != "[slots/a slots/b]" {
		t.Errorf("List() = %v", keys)
	}

	ok, _ := store.Exists("other")
	if !ok {
		t.Error("Exists() = false, want true")
	}
	ok, _ = store.Exists("missing")
	if ok {
		t.Error("Exists() = true, want false")
	}
}

func TestClose(t *testing.T) {
	s := New().(*Storage)
	_ = s.Put("k", []byte{7, 7}, nil)
	v := s.data["k"]

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !bytes.Equal(v, []byte{0, 0}) {
		t.Errorf("value after Close = %x, want zeroes", v)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := s.Get("k"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Get() error = %v, want %v", err, storage.ErrClosed)
	}
	if err := s.Put("k", nil, nil); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Put() error = %v, want %v", err, storage.ErrClosed)
	}
	if _, err := s.List(""); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("List() error = %v, want %v", err, storage.ErrClosed)
	}
	if _, err := s.Exists("k"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Exists() error = %v, want %v", err, storage.ErrClosed)
	}
	if err := s.Delete("k"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Delete() error = %v, want %v", err, storage.ErrClosed)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := New()
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			for j := 0; j < 50; j++ {
				_ = store.Put(key, []byte{byte(j)}, nil)
				_, _ = store.Get(key)
				_, _ = store.List("")
			}
		}(i)
	}
	wg.Wait()

	keys, _ := store.List("")
	if len(keys) != 16 {
		t.Errorf("List() returned %d keys, want 16", len(keys))
	}
}
