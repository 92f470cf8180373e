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

// FixedResolver returns its pattern, repeated, for every request. Each call
// starts again at the beginning of the pattern, so Rand(16) always yields
// the same 16 bytes.
type FixedResolver struct {
	pattern []byte
}

var _ Resolver = (*FixedResolver)(nil)

// NewFixedResolver returns a resolver repeating pattern. The pattern is
// copied.
func NewFixedResolver(pattern []byte) (*FixedResolver, error) {
	if len(pattern) == 0 {
		return nil, ErrEmptyPattern
	}
	return &FixedResolver{pattern: append([]byte(nil), pattern...)}, nil
}

func (f *FixedResolver) Rand(n int) ([]byte, error) {
	buf := make([]byte, n)
	f.fill(buf)
	return buf, nil
}

// Read implements io.Reader.
func (f *FixedResolver) Read(p []byte) (int, error) {
	f.fill(p)
	return len(p), nil
}

func (f *FixedResolver) fill(p []byte) {
	for i := range p {
		p[i] = f.pattern[i%len(f.pattern)]
	}
}

func (f *FixedResolver) Source() Source {
	return f
}

func (f *FixedResolver) Available() bool {
	return true
}

func (f *FixedResolver) Close() error {
	return nil
}
