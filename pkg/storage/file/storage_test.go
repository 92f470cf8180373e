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

package file

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shw/pkg/storage"
)

func newStore(t *testing.T) (storage.Backend, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func TestNew(t *testing.T) {
	t.Run("creates nested directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		store, err := New(dir)
		require.NoError(t, err)
		require.NotNil(t, store)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("empty root", func(t *testing.T) {
		_, err := New("")
		assert.Error(t, err)
	})
}

func TestPutGetDelete(t *testing.T) {
	store, dir := newStore(t)
	key := storage.SlotPath(0x1234, 2)
	value := bytes.Repeat([]byte{0x5A}, 48)

	require.NoError(t, store.Put(key, value, nil))

	got, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	ok, err := store.Exists(key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Put(key, []byte{1}, nil))
	got, err = store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got)

	require.NoError(t, store.Delete(key))
	_, err = store.Get(key)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(store.Delete(key), storage.ErrNotFound))

	ok, err = store.Exists(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPut_Permissions(t *testing.T) {
	store, dir := newStore(t)
	require.NoError(t, store.Put("k", []byte{1}, &storage.Options{Permissions: 0640}))

	info, err := os.Stat(filepath.Join(dir, "k"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestList(t *testing.T) {
	store, _ := newStore(t)
	for _, k := range []string{
		storage.SlotPath(1, 2),
		storage.SlotPath(1, 1),
		storage.SlotPath(2, 1),
	} {
		require.NoError(t, store.Put(k, []byte{1}, nil))
	}

	keys, err := store.List(storage.OwnerPrefix(1))
	require.NoError(t, err)
	assert.Equal(t, []string{storage.SlotPath(1, 1), storage.SlotPath(1, 2)}, keys)

	handles, err := storage.ListSlots(store, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, handles)
}

func TestInvalidKeys(t *testing.T) {
	store, _ := newStore(t)
	for _, key := range []string{"", "../secret", "/etc/passwd", "a/../../b", "x\x00y"} {
		err := store.Put(key, []byte{1}, nil)
		assert.True(t, errors.Is(err, storage.ErrInvalidKey), "key %q: %v", key, err)
		_, err = store.Get(key)
		assert.True(t, errors.Is(err, storage.ErrInvalidKey), "key %q: %v", key, err)
	}
}

func TestValidateStorageKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr string
	}{
		{"", "cannot be empty"},
		{"test\x00key", "null byte"},
		{"/etc/passwd", "absolute path"},
		{"../secret", "path traversal"},
		{"foo/../../../etc/passwd", "path traversal"},
		{"foo/bar/..", ""},
		{"slots/0000000000001234/1.slot", ""},
	}
	for _, tt := range tests {
		err := validateStorageKey(tt.key)
		if tt.wantErr == "" {
			assert.NoError(t, err, tt.key)
		} else if assert.Error(t, err, tt.key) {
			assert.Contains(t, err.Error(), tt.wantErr)
		}
	}
}

func TestClose(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.Put("k", []byte{1}, nil))
	require.NoError(t, store.Close())

	_, err := store.Get("k")
	assert.True(t, errors.Is(err, storage.ErrClosed))
	_, err = store.List("")
	assert.True(t, errors.Is(err, storage.ErrClosed))
}
