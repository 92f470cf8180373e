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

package testutil

import (
	"context"
	"sync"

	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/executor"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// CountingExecutor counts the chains submitted to it and passes them on to
// Next. Before hands a chain to an optional hook first.
type CountingExecutor struct {
	Next   executor.Executor
	Before func(h *chain.Head)

	mu        sync.Mutex
	submitted int
}

var _ executor.Executor = (*CountingExecutor)(nil)

// Submit counts h and forwards it.
func (c *CountingExecutor) Submit(ctx context.Context, h *chain.Head) (bool, error) {
	c.mu.Lock()
	c.submitted++
	c.mu.Unlock()
	if c.Before != nil {
		c.Before(h)
	}
	return c.Next.Submit(ctx, h)
}

// Poll forwards to Next.
func (c *CountingExecutor) Poll(uc *types.UserContext, max int) []*chain.Head {
	return c.Next.Poll(uc, max)
}

// Submitted returns the number of chains submitted so far.
func (c *CountingExecutor) Submitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted
}
