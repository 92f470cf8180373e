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

package rand

import (
	"sync"
)

// autoResolver picks the best available source and retries on the
// configured fallback when it fails.
type autoResolver struct {
	resolver Resolver
	fallback Resolver
	mu       sync.RWMutex
}

var _ Resolver = (*autoResolver)(nil)

func newAutoResolver(cfg *Config) (Resolver, error) {
	resolver, err := newSoftwareResolver()
	if err != nil {
		return nil, err
	}

	var fallback Resolver
	if cfg.FallbackMode != "" && cfg.FallbackMode != ModeAuto {
		fallback, _ = newResolver(&Config{Mode: cfg.FallbackMode, Pattern: cfg.Pattern})
	}

	return &autoResolver{
		resolver: resolver,
		fallback: fallback,
	}, nil
}

func (a *autoResolver) Rand(n int) ([]byte, error) {
	a.mu.RLock()
	resolver := a.resolver
	fallback := a.fallback
	a.mu.RUnlock()

	result, err := resolver.Rand(n)
	if err != nil && fallback != nil {
		result, err = fallback.Rand(n)
	}
	return result, err
}

// Read implements io.Reader.
func (a *autoResolver) Read(p []byte) (int, error) {
	b, err := a.Rand(len(p))
	if err != nil {
		return 0, err
	}
	n := copy(p, b)
	clear(b)
	return n, nil
}

func (a *autoResolver) Source() Source {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resolver.Source()
}

func (a *autoResolver) Available() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resolver.Available() || (a.fallback != nil && a.fallback.Available())
}

func (a *autoResolver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.resolver != nil {
		_ = a.resolver.Close()
	}
	if a.fallback != nil {
		_ = a.fallback.Close()
	}
	return nil
}
