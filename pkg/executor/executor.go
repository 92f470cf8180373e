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

// Package executor defines the boundary between the request layer and the
// component that runs descriptor chains on the accelerator.
package executor

import (
	"context"

	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Executor runs finished descriptor chains.
//
// Submit hands a chain over exactly once. For a blocking user context the
// executor runs the chain before returning, records the outcome in
// Head.Status and reports done=true. Otherwise it queues the chain, reports
// done=false, and later makes the finished Head available through Poll and,
// when the context asks for it, invokes the context's callback. The
// executor never destroys a chain; that is the request layer's job once the
// result has been consumed.
//
// An error returned from Submit means the chain was not accepted and
// remains owned by the caller.
type Executor interface {
	Submit(ctx context.Context, h *chain.Head) (done bool, err error)

	// Poll removes and returns up to max finished chains submitted through
	// uc, oldest first.
	Poll(uc *types.UserContext, max int) []*chain.Head
}
