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

package shw

import (
	"context"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/metrics"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// GetRandom fills out from the accelerator's RNG.
func (e *Engine) GetRandom(ctx context.Context, uc *types.UserContext, out []byte) (err error) {
	start := time.Now()
	defer func() { observe(metrics.OpRandom, pending(uc), start, err) }()

	if err := checkUser(uc); err != nil {
		return err
	}
	if len(out) == 0 {
		return fmt.Errorf("%w: empty random request", types.ErrBadLength)
	}
	r := e.newRequest(metrics.OpRandom, uc)
	defer r.b.Abort()
	dst, err := r.b.Output(out)
	if err != nil {
		return err
	}
	if err := r.b.Add(chain.Header{Opcode: chain.OpRNG}, nil, dst); err != nil {
		return err
	}
	return e.submit(ctx, r)
}
