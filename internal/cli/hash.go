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

func parseHash(name string) (types.HashAlgorithm, error) {
	alg := types.ParseHashAlgorithm(name)
	if alg == 0 {
		return 0, fmt.Errorf("%w: %q", types.ErrBadAlgorithm, name)
	}
	return alg, nil
}

func newHashCmd(cfg *Config) *cobra.Command {
	var (
		algorithm string
		data      input
	)
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Compute a message digest",
		Long: `Compute an MD5, SHA-1, SHA-224 or SHA-256 digest. The message is read
from --data, --data-hex, --data-file or stdin.`,
		Example: `  shwctl hash --alg sha256 --data "abc"
  echo -n abc | shwctl hash --alg sha1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := parseHash(algorithm)
			if err != nil {
				return err
			}
			msg, err := data.bytes(cmd.InOrStdin(), true)
			if err != nil {
				return err
			}
			return run(cmd, cfg, func(s *session, p *Printer) error {
				hc := types.NewHashContext(alg, types.HashFlagInit|types.HashFlagFinalize)
				digest := make([]byte, alg.DigestSize())
				if err := s.engine.Hash(cmd.Context(), s.user, hc, msg, digest); err != nil {
					return fmt.Errorf("hash failed: %w", err)
				}
				return p.PrintDigest("digest", alg.String(), digest)
			})
		},
	}
	cmd.Flags().StringVarP(&algorithm, "alg", "a", "sha256", "hash algorithm (md5, sha1, sha224, sha256)")
	data.register(cmd, "data", "message")
	return cmd
}

func newHMACCmd(cfg *Config) *cobra.Command {
	var (
		algorithm string
		keyHex    string
		data      input
	)
	cmd := &cobra.Command{
		Use:   "hmac",
		Short: "Compute an HMAC",
		Long: `Compute an HMAC with a key of at most 64 bytes. The key is given in hex;
the message is read from --data, --data-hex, --data-file or stdin.`,
		Example: `  shwctl hmac --alg sha256 --key 4a656665 --data "what do ya want for nothing?"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := parseHash(algorithm)
			if err != nil {
				return err
			}
			raw, err := hexFlag("key", keyHex)
			if err != nil {
				return err
			}
			msg, err := data.bytes(cmd.InOrStdin(), true)
			if err != nil {
				return err
			}
			return run(cmd, cfg, func(s *session, p *Printer) error {
				key := types.NewKeyObject(types.KeyAlgHMAC, s.owner)
				if err := key.SetKey(raw); err != nil {
					return err
				}
				defer key.Wipe()

				hc := types.NewHMACContext(alg, types.HMACFlagInit|types.HMACFlagFinalize)
				mac := make([]byte, alg.DigestSize())
				if err := s.engine.HMAC(cmd.Context(), s.user, hc, key, msg, mac); err != nil {
					return fmt.Errorf("hmac failed: %w", err)
				}
				return p.PrintDigest("mac", alg.String(), mac)
			})
		},
	}
	cmd.Flags().StringVarP(&algorithm, "alg", "a", "sha256", "hash algorithm (md5, sha1, sha224, sha256)")
	cmd.Flags().StringVarP(&keyHex, "key", "k", "", "HMAC key in hex")
	_ = cmd.MarkFlagRequired("key")
	data.register(cmd, "data", "message")
	return cmd
}
