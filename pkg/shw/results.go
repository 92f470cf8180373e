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
	"errors"
	"time"

	"github.com/jeremyhahn/go-shw/pkg/adapters/logger"
	"github.com/jeremyhahn/go-shw/pkg/metrics"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Results collects up to max finished non-blocking requests of uc, oldest
// first. A max of zero or less collects everything available.
//
// Deferred checks run here: a CCM decrypt whose tag does not verify is
// reported as types.ErrAuthFailed and its plaintext is zeroed. Every
// collected chain is torn down unless it was retained, and its pool slot
// is returned to uc.
func (e *Engine) Results(uc *types.UserContext, max int) (results []types.Result, err error) {
	start := time.Now()
	defer func() { observe(metrics.OpResults, false, start, err) }()

	if err := checkUser(uc); err != nil {
		return nil, err
	}
	heads := e.exec.Poll(uc, max)
	if len(heads) == 0 {
		return nil, types.ErrNoResult
	}
	results = make([]types.Result, 0, len(heads))
	for _, h := range heads {
		status := h.Complete()
		if errors.Is(status, types.ErrAuthFailed) {
			e.logger.Warn("authentication failed", logger.RequestID(h.ID))
		}
		results = append(results, types.Result{
			RequestID: h.ID,
			Ref:       uc.Ref,
			Err:       status,
		})
		e.finish(h)
		uc.Release()
		metrics.RequestCollected()
	}
	return results, nil
}
