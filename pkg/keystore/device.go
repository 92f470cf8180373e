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
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-shw/pkg/crypto/rand"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

const (
	// DeviceSecretSize is the length of a generated device secret.
	DeviceSecretSize = 32

	hkdfSalt       = "go-shw-keystore-v1"
	slotKeyInfo    = "slot-encryption"
	sealingKeyInfo = "slot-sealing"
)

// device derives the per-owner keys behind EncryptInPlace and the sealing
// of persisted slots from one device-bound secret.
type device struct {
	secret []byte
}

func newDevice(secret []byte, rng rand.Resolver) (*device, error) {
	if len(secret) == 0 {
		if rng == nil {
			var err error
			if rng, err = rand.NewResolver(rand.ModeSoftware); err != nil {
				return nil, err
			}
		}
		var err error
		if secret, err = rng.Rand(DeviceSecretSize); err != nil {
			return nil, fmt.Errorf("keystore: failed to generate device secret: %w", err)
		}
		return &device{secret: secret}, nil
	}
	if len(secret) < 16 {
		return nil, fmt.Errorf("%w: device secret of %d bytes", ErrWeakSecret, len(secret))
	}
	return &device{secret: append([]byte(nil), secret...)}, nil
}

func (d *device) derive(purpose string, owner types.OwnerID, n int) ([]byte, error) {
	info := append([]byte(purpose), owner.Bytes()...)
	key := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, d.secret, []byte(hkdfSalt), info), key); err != nil {
		return nil, err
	}
	return key, nil
}

// transform runs AES-128-ECB over data in place under owner's slot key.
// Slots transformed this way must be a whole number of blocks.
func (d *device) transform(owner types.OwnerID, data []byte, decrypt bool) error {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: %d byte slot is not block aligned", types.ErrBadLength, len(data))
	}
	key, err := d.derive(slotKeyInfo, owner, 16)
	if err != nil {
		return err
	}
	defer clear(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	for off := 0; off < len(data); off += aes.BlockSize {
		if decrypt {
			block.Decrypt(data[off:off+aes.BlockSize], data[off:off+aes.BlockSize])
		} else {
			block.Encrypt(data[off:off+aes.BlockSize], data[off:off+aes.BlockSize])
		}
	}
	return nil
}

func (d *device) gcm(owner types.OwnerID) (cipher.AEAD, error) {
	key, err := d.derive(sealingKeyInfo, owner, 32)
	if err != nil {
		return nil, err
	}
	defer clear(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts a slot for persistence. The storage path is bound as
// associated data so sealed slots cannot be swapped between paths.
func (d *device) seal(owner types.OwnerID, path string, data []byte, rng rand.Resolver) ([]byte, error) {
	gcm, err := d.gcm(owner)
	if err != nil {
		return nil, err
	}
	nonce, err := rng.Rand(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, []byte(path)), nil
}

func (d *device) open(owner types.OwnerID, path string, sealed []byte) ([]byte, error) {
	gcm, err := d.gcm(owner)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("%w: sealed slot of %d bytes", ErrCorruptSlot, len(sealed))
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	data, err := gcm.Open(nil, nonce, ct, []byte(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSlot, err)
	}
	return data, nil
}

func (d *device) wipe() {
	clear(d.secret)
}
