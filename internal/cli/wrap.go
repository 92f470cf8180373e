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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-shw/internal/encoding"
	"github.com/jeremyhahn/go-shw/pkg/adapters/logger"
	"github.com/jeremyhahn/go-shw/pkg/shw"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

func newWrapCmd(cfg *Config) *cobra.Command {
	var (
		algorithm    string
		keyHex       string
		create       bool
		length       int
		noRead       bool
		ignoreParity bool
		outFile      string
	)
	cmd := &cobra.Command{
		Use:   "wrap",
		Short: "Establish a key and export it as a wrapped blob",
		Long: `Load a clear key (--key) or have the RNG unit create one (--create) in a
keystore slot, then wrap it into a blob bound to this device and to the
owner ID. The blob is written as PEM.

Blobs only unwrap under the device secret they were wrapped with; set
keystore.device_secret or SHW_DEVICE_SECRET to keep one across runs.`,
		Example: `  shwctl wrap --alg aes --key 000102030405060708090a0b0c0d0e0f --out key.pem
  shwctl wrap --alg 3des --create --length 24 --no-read`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			alg := types.ParseKeyAlgorithm(algorithm)
			if alg == 0 {
				return fmt.Errorf("%w: %q", types.ErrBadAlgorithm, algorithm)
			}
			if create == (keyHex != "") {
				return fmt.Errorf("exactly one of --key and --create is required")
			}
			raw, err := hexFlag("key", keyHex)
			if err != nil {
				return err
			}
			defer clear(raw)

			return run(cmd, cfg, func(s *session, p *Printer) error {
				key := types.NewKeyObject(alg, s.owner)
				if noRead {
					key.Flags |= types.KeyFlagNoRead
				}
				if ignoreParity {
					key.Flags |= types.KeyFlagIgnoreParity
				}

				kind := shw.EstablishAccept
				if create {
					kind = shw.EstablishCreate
					if err := key.SetLength(length); err != nil {
						return err
					}
				}
				if err := s.engine.EstablishKey(cmd.Context(), s.user, key, kind, raw); err != nil {
					return fmt.Errorf("failed to establish key: %w", err)
				}
				blob, err := s.engine.ExtractKey(cmd.Context(), s.user, key)
				if err != nil {
					return errors.Join(fmt.Errorf("failed to wrap key: %w", err),
						s.engine.ReleaseKey(cmd.Context(), s.user, key))
				}

				pemData, err := encoding.EncodeWrappedKeyPEM(s.owner, blob)
				if err != nil {
					return err
				}
				if outFile != "" {
					if err := os.WriteFile(outFile, pemData, 0600); err != nil {
						return fmt.Errorf("failed to write %s: %w", outFile, err)
					}
					return p.PrintSuccess(fmt.Sprintf("wrapped %s key written to %s", alg, outFile))
				}
				return p.PrintWrappedKey(s.owner, alg, pemData)
			})
		},
	}
	cmd.Flags().StringVarP(&algorithm, "alg", "a", "aes", "key algorithm (aes, des, 3des, arc4, hmac)")
	cmd.Flags().StringVarP(&keyHex, "key", "k", "", "clear key in hex")
	cmd.Flags().BoolVar(&create, "create", false, "create the key with the RNG unit")
	cmd.Flags().IntVar(&length, "length", 16, "key length in bytes for --create")
	cmd.Flags().BoolVar(&noRead, "no-read", false, "forbid reading the key back after unwrap")
	cmd.Flags().BoolVar(&ignoreParity, "ignore-parity", false, "skip the DES parity check for this key")
	cmd.Flags().StringVar(&outFile, "out", "", "write the PEM blob to a file")
	return cmd
}

func newUnwrapCmd(cfg *Config) *cobra.Command {
	var in input
	cmd := &cobra.Command{
		Use:   "unwrap",
		Short: "Verify a wrapped blob and recover its key",
		Long: `Verify and decrypt a PEM blob produced by wrap. The blob must have been
wrapped on this device for the same owner ID. Keys wrapped with --no-read
are verified but not printed.`,
		Example: `  shwctl unwrap --in-file key.pem`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pemData, err := in.bytes(cmd.InOrStdin(), true)
			if err != nil {
				return err
			}
			wrapped, err := encoding.DecodeWrappedKeyPEM(pemData)
			if err != nil {
				return err
			}

			return run(cmd, cfg, func(s *session, p *Printer) (err error) {
				if wrapped.Owner != s.owner {
					s.logger.Warn("blob was wrapped for another owner",
						logger.Uint64("blob_owner", uint64(wrapped.Owner)),
						logger.Uint64("owner", uint64(s.owner)))
				}
				key := types.NewKeyObject(wrapped.Algorithm, s.owner)
				if err := s.engine.EstablishKey(cmd.Context(), s.user, key, shw.EstablishUnwrap, wrapped.Blob); err != nil {
					return fmt.Errorf("failed to unwrap key: %w", err)
				}
				defer func() {
					err = errors.Join(err, s.engine.ReleaseKey(cmd.Context(), s.user, key))
				}()

				raw, err := s.engine.ReadKey(cmd.Context(), s.user, key)
				if errors.Is(err, types.ErrKeyNotReadable) {
					return p.PrintKey(key.Algorithm, nil, key.Length())
				}
				if err != nil {
					return err
				}
				defer clear(raw)
				return p.PrintKey(key.Algorithm, raw, key.Length())
			})
		},
	}
	in.register(cmd, "in", "wrapped key PEM")
	return cmd
}
