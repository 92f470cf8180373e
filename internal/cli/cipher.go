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

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-shw/pkg/types"
)

// cipherFlags are shared by encrypt and decrypt.
type cipherFlags struct {
	algorithm    string
	mode         string
	keyHex       string
	ivHex        string
	nonceHex     string
	aadHex       string
	tagHex       string
	tagLen       int
	modulus      int
	ignoreParity bool
	save         bool
	data         input
}

func (f *cipherFlags) register(cmd *cobra.Command, decrypt bool) {
	flags := cmd.Flags()
	flags.StringVarP(&f.algorithm, "alg", "a", "aes", "cipher (aes, des, 3des, arc4)")
	flags.StringVarP(&f.mode, "mode", "m", "", "mode (ecb, cbc, ctr, ccm, stream); cbc, or stream for arc4, when empty")
	flags.StringVarP(&f.keyHex, "key", "k", "", "key in hex")
	flags.StringVar(&f.ivHex, "iv", "", "IV or initial counter block in hex (cbc, ctr)")
	flags.StringVar(&f.nonceHex, "nonce", "", "CCM nonce in hex (7 to 13 bytes)")
	flags.StringVar(&f.aadHex, "aad", "", "CCM associated data in hex")
	flags.IntVar(&f.modulus, "counter-bits", 0, "CTR counter width in bits (8 to 128)")
	flags.BoolVar(&f.ignoreParity, "ignore-parity", false, "accept DES keys without odd parity")
	flags.BoolVar(&f.save, "save", false, "print the chaining context after the request")
	if decrypt {
		flags.StringVar(&f.tagHex, "tag", "", "CCM tag in hex")
	} else {
		flags.IntVar(&f.tagLen, "tag-len", 16, "CCM tag length in bytes")
	}
	_ = cmd.MarkFlagRequired("key")
	f.data.register(cmd, "data", "input")
}

func (f *cipherFlags) parse() (types.KeyAlgorithm, types.CipherMode, error) {
	alg := types.ParseKeyAlgorithm(f.algorithm)
	if alg == 0 || alg == types.KeyAlgHMAC {
		return 0, 0, fmt.Errorf("%w: %q", types.ErrBadAlgorithm, f.algorithm)
	}
	name := f.mode
	if name == "" {
		name = "cbc"
		if alg == types.KeyAlgARC4 {
			name = "stream"
		}
	}
	mode := types.ParseCipherMode(name)
	if mode == 0 {
		return 0, 0, fmt.Errorf("%w: %q", types.ErrBadMode, name)
	}
	return alg, mode, nil
}

func (f *cipherFlags) keyObject(alg types.KeyAlgorithm, owner types.OwnerID) (*types.KeyObject, error) {
	raw, err := hexFlag("key", f.keyHex)
	if err != nil {
		return nil, err
	}
	key := types.NewKeyObject(alg, owner)
	if f.ignoreParity {
		key.Flags |= types.KeyFlagIgnoreParity
	}
	if err := key.SetKey(raw); err != nil {
		return nil, err
	}
	clear(raw)
	return key, nil
}

func newEncryptCmd(cfg *Config) *cobra.Command {
	f := &cipherFlags{}
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt data",
		Long: `Encrypt data with AES, DES, 3DES or ARC4. With --mode ccm the data is
encrypted and authenticated with AES-CCM and the tag is printed alongside
the ciphertext.`,
		Example: `  shwctl encrypt --alg aes --mode cbc --key 000102030405060708090a0b0c0d0e0f \
    --iv 00000000000000000000000000000000 --data-hex 6bc1bee22e409f96e93d7e117393172a
  shwctl encrypt --mode ccm --key 404142434445464748494a4b4c4d4e4f \
    --nonce 10111213141516 --aad 0001020304050607 --tag-len 4 --data-hex 20212223`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCipher(cmd, cfg, f, false)
		},
	}
	f.register(cmd, false)
	return cmd
}

func newDecryptCmd(cfg *Config) *cobra.Command {
	f := &cipherFlags{}
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt data",
		Long: `Decrypt data with AES, DES, 3DES or ARC4. With --mode ccm the tag given
by --tag is verified and nothing is printed when it does not match.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCipher(cmd, cfg, f, true)
		},
	}
	f.register(cmd, true)
	return cmd
}

func runCipher(cmd *cobra.Command, cfg *Config, f *cipherFlags, decrypt bool) error {
	alg, mode, err := f.parse()
	if err != nil {
		return err
	}
	in, err := f.data.bytes(cmd.InOrStdin(), true)
	if err != nil {
		return err
	}
	return run(cmd, cfg, func(s *session, p *Printer) error {
		key, err := f.keyObject(alg, s.owner)
		if err != nil {
			return err
		}
		defer key.Wipe()

		out := &CipherOutput{
			Algorithm: alg.String(),
			Mode:      mode.String(),
			Data:      make([]byte, len(in)),
		}
		if mode == types.ModeCCM {
			err = f.ccm(cmd, s, key, in, out, decrypt)
		} else {
			err = f.symmetric(cmd, s, key, mode, in, out, decrypt)
		}
		if err != nil {
			return err
		}
		return p.PrintCipher(out)
	})
}

func (f *cipherFlags) symmetric(cmd *cobra.Command, s *session, key *types.KeyObject, mode types.CipherMode, in []byte, out *CipherOutput, decrypt bool) error {
	sc := types.NewSymContext(mode, 0)
	sc.CounterModulus = f.modulus
	switch sc.Mode {
	case types.ModeStream:
		sc.Flags |= types.SymFlagInit
	case types.ModeCBC, types.ModeCTR:
		iv, err := hexFlag("iv", f.ivHex)
		if err != nil {
			return err
		}
		if iv == nil {
			return fmt.Errorf("--iv is required for %s", sc.Mode)
		}
		if err := sc.SetContext(iv); err != nil {
			return err
		}
	}
	if f.save && sc.Mode != types.ModeECB {
		sc.Flags |= types.SymFlagSave
	}

	var err error
	if decrypt {
		err = s.engine.SymmetricDecrypt(cmd.Context(), s.user, sc, key, in, out.Data)
	} else {
		err = s.engine.SymmetricEncrypt(cmd.Context(), s.user, sc, key, in, out.Data)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", cmd.Name(), err)
	}
	if sc.Flags&types.SymFlagSave != 0 {
		out.Context = append([]byte(nil), sc.State(key.Algorithm)...)
	}
	return nil
}

func (f *cipherFlags) ccm(cmd *cobra.Command, s *session, key *types.KeyObject, in []byte, out *CipherOutput, decrypt bool) error {
	nonce, err := hexFlag("nonce", f.nonceHex)
	if err != nil {
		return err
	}
	aad, err := hexFlag("aad", f.aadHex)
	if err != nil {
		return err
	}

	if decrypt {
		tag, err := hexFlag("tag", f.tagHex)
		if err != nil {
			return err
		}
		ac, err := types.NewCCMContext(nonce, len(tag))
		if err != nil {
			return err
		}
		if err := s.engine.AuthDecrypt(cmd.Context(), s.user, ac, key, aad, in, out.Data, tag); err != nil {
			return fmt.Errorf("decrypt failed: %w", err)
		}
		return nil
	}

	ac, err := types.NewCCMContext(nonce, f.tagLen)
	if err != nil {
		return err
	}
	out.Tag = make([]byte, f.tagLen)
	if err := s.engine.AuthEncrypt(cmd.Context(), s.user, ac, key, aad, in, out.Data, out.Tag); err != nil {
		return fmt.Errorf("encrypt failed: %w", err)
	}
	return nil
}
