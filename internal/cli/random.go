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
)

func newRandomCmd(cfg *Config) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "random",
		Short: "Read bytes from the RNG unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if size <= 0 {
				return fmt.Errorf("--bytes must be positive, got %d", size)
			}
			return run(cmd, cfg, func(s *session, p *Printer) error {
				out := make([]byte, size)
				if err := s.engine.GetRandom(cmd.Context(), s.user, out); err != nil {
					return fmt.Errorf("random failed: %w", err)
				}
				return p.PrintRandom(out)
			})
		},
	}
	cmd.Flags().IntVarP(&size, "bytes", "n", 32, "number of random bytes")
	return cmd
}

func newCapsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Show supported algorithms and limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, func(s *session, p *Printer) error {
				return p.PrintCapabilities(s.engine.Capabilities())
			})
		},
	}
}
