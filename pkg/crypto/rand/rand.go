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

// Package rand resolves the random number sources used by the request
// layer: the nonce T of a key wrap, keys created inside the keystore, and
// the RNG unit of the reference executor.
//
// # RNG Sources
//
//   - Auto: the best available source, currently Software
//   - Software: crypto/rand
//   - Fixed: a caller-supplied pattern repeated forever
//
// Fixed exists for repeatable wrap tests, where the blob of a given key
// must be byte-identical across runs. It must never be configured on a
// production device.
//
//	rng, _ := rand.NewResolver(rand.ModeSoftware)
//	nonce, _ := rng.Rand(16)
//
// # Thread Safety
//
// All Resolver implementations are safe for concurrent use.
package rand

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// Mode specifies which RNG source to use.
type Mode string

const (
	// ModeAuto automatically selects the best available RNG.
	ModeAuto Mode = "auto"

	// ModeSoftware uses crypto/rand (stdlib secure random)
	ModeSoftware Mode = "software"

	// ModeFixed repeats Config.Pattern. Test use only.
	ModeFixed Mode = "fixed"
)

// ErrEmptyPattern is returned when ModeFixed is selected without a pattern.
var ErrEmptyPattern = errors.New("rand: fixed mode requires a pattern")

// Config contains RNG configuration.
type Config struct {
	// Mode specifies the primary RNG source to use.
	// Defaults to ModeAuto if not specified.
	Mode Mode

	// FallbackMode specifies the RNG source to use if primary mode fails.
	// If not specified, failures are returned as errors.
	FallbackMode Mode

	// Pattern is the byte sequence ModeFixed repeats.
	Pattern []byte
}

// Source represents a random number generator.
type Source interface {
	// Rand returns n random bytes.
	Rand(n int) ([]byte, error)

	// Available returns true if this RNG source is available and ready.
	Available() bool

	// Close closes the RNG and releases any resources.
	Close() error
}

// Resolver provides the main interface for generating random numbers.
// Applications should create a Resolver at startup and reuse it.
//
// Resolver implements io.Reader, making it usable anywhere crypto/rand.Reader
// is.
type Resolver interface {
	// Rand returns n random bytes from the configured RNG source.
	// If the primary source fails and FallbackMode is configured,
	// tries the fallback source.
	Rand(n int) ([]byte, error)

	// Read implements io.Reader.
	Read(p []byte) (n int, err error)

	// Source returns the underlying RNG Source being used.
	Source() Source

	// Available returns true if at least one RNG source is available.
	Available() bool

	// Close closes the resolver and releases any resources.
	Close() error
}

// NewResolver creates a new RNG resolver from a Mode or a *Config.
// If config is nil or empty, auto mode is used.
func NewResolver(config interface{}) (Resolver, error) {
	cfg := normalizeConfig(config)
	return newResolver(cfg)
}

// normalizeConfig converts various config types to *Config.
func normalizeConfig(config interface{}) *Config {
	if config == nil {
		return &Config{Mode: ModeAuto}
	}

	switch v := config.(type) {
	case Mode:
		return &Config{Mode: v}
	case *Config:
		if v == nil {
			return &Config{Mode: ModeAuto}
		}
		if v.Mode == "" {
			v.Mode = ModeAuto
		}
		return v
	default:
		return &Config{Mode: ModeAuto}
	}
}

func newResolver(cfg *Config) (Resolver, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAuto
	}

	switch mode {
	case ModeAuto:
		return newAutoResolver(cfg)
	case ModeSoftware:
		return newSoftwareResolver()
	case ModeFixed:
		return NewFixedResolver(cfg.Pattern)
	default:
		return nil, fmt.Errorf("unknown RNG mode: %s", mode)
	}
}

// SoftwareResolver uses crypto/rand from the Go standard library.
type SoftwareResolver struct{}

var _ Resolver = (*SoftwareResolver)(nil)

func newSoftwareResolver() (Resolver, error) {
	return &SoftwareResolver{}, nil
}

func (s *SoftwareResolver) Rand(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	return buf, err
}

// Read implements io.Reader.
func (s *SoftwareResolver) Read(p []byte) (n int, err error) {
	return rand.Read(p)
}

func (s *SoftwareResolver) Source() Source {
	return &softwareSource{}
}

func (s *SoftwareResolver) Available() bool {
	return true
}

func (s *SoftwareResolver) Close() error {
	return nil
}

type softwareSource struct{}

func (s *softwareSource) Rand(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	return buf, err
}

func (s *softwareSource) Available() bool {
	return true
}

func (s *softwareSource) Close() error {
	return nil
}
