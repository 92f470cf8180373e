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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-shw/internal/encoding"
	"github.com/jeremyhahn/go-shw/pkg/correlation"
	"github.com/jeremyhahn/go-shw/pkg/metrics"
)

// NewRootCmd returns the shwctl command tree bound to cfg.
func NewRootCmd(cfg *Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shwctl",
		Short: "shwctl - secure hardware request layer tool",
		Long: `shwctl drives the secure hardware request layer through the
software reference executor. Every command builds descriptor chains
exactly as they would be handed to the accelerator.

Commands:
  - hash, hmac:        MD5, SHA-1, SHA-224, SHA-256
  - encrypt, decrypt:  AES, DES, 3DES, ARC4 and AES-CCM
  - wrap, unwrap:      device-bound key blobs
  - random, caps`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(cfg.OutputFormat)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.ConfigFile, "config", "",
		"config file (defaults apply when empty)")
	flags.StringVarP(&cfg.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	flags.StringVar(&cfg.LogLevel, "log-level", "",
		"log level override (debug, info, warn, error)")
	flags.BoolVar(&cfg.Metrics, "metrics", false,
		"print Prometheus metrics to stderr after the command")
	flags.Uint64Var(&cfg.Owner, "owner", 1,
		"owner ID keys are established under")

	rootCmd.AddCommand(
		newVersionCmd(cfg),
		newCapsCmd(cfg),
		newHashCmd(cfg),
		newHMACCmd(cfg),
		newEncryptCmd(cfg),
		newDecryptCmd(cfg),
		newRandomCmd(cfg),
		newWrapCmd(cfg),
		newUnwrapCmd(cfg),
	)
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	cfg := NewConfig()
	err := NewRootCmd(cfg).Execute()
	if err != nil {
		printer := NewPrinter(cfg.OutputFormat, os.Stderr)
		_ = printer.PrintError(err) // Error printing to stderr is best-effort
	}
	return err
}

// run opens a session for cmd, calls fn and tears the session down.
func run(cmd *cobra.Command, cfg *Config, fn func(s *session, p *Printer) error) (err error) {
	s, err := cfg.open(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	// Every chain of one invocation logs the same correlation ID.
	cmd.SetContext(correlation.WithCorrelationID(cmd.Context(), correlation.NewID()))
	if err = fn(s, NewPrinter(cfg.OutputFormat, cmd.OutOrStdout())); err != nil {
		return err
	}
	if cfg.Metrics {
		return metrics.WriteText(cmd.ErrOrStderr())
	}
	return nil
}

// input holds the mutually exclusive ways of passing data to a command.
type input struct {
	text string
	hex  string
	file string
}

func (in *input) register(cmd *cobra.Command, name, usage string) {
	cmd.Flags().StringVar(&in.text, name, "", usage+" as a string")
	cmd.Flags().StringVar(&in.hex, name+"-hex", "", usage+" as hex")
	cmd.Flags().StringVar(&in.file, name+"-file", "", "file holding the "+usage)
	cmd.MarkFlagsMutuallyExclusive(name, name+"-hex", name+"-file")
}

// bytes returns the selected input. With no flag set it reads stdin when
// allowed and returns an empty slice otherwise.
func (in *input) bytes(stdin io.Reader, allowStdin bool) ([]byte, error) {
	switch {
	case in.hex != "":
		return encoding.DecodeHex(in.hex)
	case in.file != "":
		// #nosec G304 - path is provided by the operator
		return os.ReadFile(in.file)
	case in.text != "":
		return []byte(in.text), nil
	case allowStdin && stdin != nil:
		return io.ReadAll(stdin)
	default:
		return []byte{}, nil
	}
}

// hexFlag decodes an optional hex flag.
func hexFlag(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	b, err := encoding.DecodeHex(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return b, nil
}

func checkFormat(format string) error {
	switch OutputFormat(format) {
	case OutputFormatText, OutputFormatJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
