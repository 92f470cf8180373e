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

// Package shw is the request layer of the cryptographic accelerator. Each
// Engine method validates its context objects, builds a descriptor chain
// with the chain.Builder, runs the alignment pass, and hands the chain to
// an executor.Executor.
//
// Requests made through a blocking types.UserContext return once the chain
// has run and every post-hardware check (such as a CCM tag comparison) has
// been resolved; output is written in place. Requests made through a
// non-blocking context return as soon as the chain is accepted. Their
// outcome is collected with Results, which also performs the deferred
// checks and tears the chain down.
//
// Example:
//
//	eng, err := shw.New(&shw.Config{Executor: exec, Keystore: store})
//	if err != nil {
//	    return err
//	}
//	uc := types.NewUserContext(types.UserFlagBlocking, 0)
//	hc := types.NewHashContext(types.HashSHA256, types.HashFlagInit|types.HashFlagFinalize)
//	digest := make([]byte, 32)
//	err = eng.Hash(ctx, uc, hc, msg, digest)
package shw

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-shw/pkg/adapters/logger"
	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/correlation"
	"github.com/jeremyhahn/go-shw/pkg/crypto/rand"
	"github.com/jeremyhahn/go-shw/pkg/executor"
	"github.com/jeremyhahn/go-shw/pkg/metrics"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Config configures an Engine.
type Config struct {
	// Allocator supplies chain memory. Defaults to chain.NewHeapAllocator().
	Allocator chain.Allocator

	// Executor runs finished chains. Required.
	Executor executor.Executor

	// Keystore is the system keystore used for key objects and user
	// contexts that do not name their own.
	Keystore types.Keystore

	// Nonce, when set, supplies the wrap nonce T instead of the
	// accelerator's RNG. It is meant for repeatable tests with a
	// rand.FixedResolver.
	Nonce rand.Resolver

	// Burst is the DMA burst width used by the alignment pass.
	// Defaults to chain.DefaultBurst.
	Burst int

	// Logger defaults to a no-op logger.
	Logger logger.Logger
}

// Engine implements the request layer entry points. It is safe for
// concurrent use; the chains it builds are never shared between requests.
type Engine struct {
	alloc    chain.Allocator
	exec     executor.Executor
	keystore types.Keystore
	nonce    rand.Resolver
	burst    int
	logger   logger.Logger

	capsOnce sync.Once
	caps     Capabilities

	mu       sync.Mutex
	retained map[string]*chain.Head
}

// New returns an Engine for cfg.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Executor == nil {
		return nil, fmt.Errorf("%w: executor is required", types.ErrBadContext)
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = chain.DefaultBurst
	}
	if burst < 1 || burst&(burst-1) != 0 {
		return nil, fmt.Errorf("%w: burst width %d is not a power of two", types.ErrBadLength, burst)
	}
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = chain.NewHeapAllocator()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		alloc:    alloc,
		exec:     cfg.Executor,
		keystore: cfg.Keystore,
		nonce:    cfg.Nonce,
		burst:    burst,
		logger:   log,
		retained: make(map[string]*chain.Head),
	}, nil
}

type retainKey struct{}

// WithRetain marks non-blocking requests made with the returned context so
// their chains survive result collection. A retained chain is handed over
// through Engine.Retained, keyed by the result's request ID, and must then
// be destroyed by the caller. Blocking requests are never retained.
func WithRetain(ctx context.Context) context.Context {
	return context.WithValue(ctx, retainKey{}, true)
}

func retain(ctx context.Context) bool {
	v, _ := ctx.Value(retainKey{}).(bool)
	return v
}

// Retained removes and returns the retained chain of a request.
func (e *Engine) Retained(requestID string) (*chain.Head, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.retained[requestID]
	delete(e.retained, requestID)
	return h, ok
}

// checkUser validates the user context every entry point starts with.
func checkUser(uc *types.UserContext) error {
	if !uc.Valid() {
		return fmt.Errorf("%w: user context", types.ErrBadContext)
	}
	return nil
}

// keystoreFor picks the keystore of a key: its own, the user context's, or
// the system keystore.
func (e *Engine) keystoreFor(uc *types.UserContext, key *types.KeyObject) (types.Keystore, error) {
	switch {
	case key != nil && key.Keystore != nil:
		return key.Keystore, nil
	case uc != nil && uc.Keystore != nil:
		return uc.Keystore, nil
	case e.keystore != nil:
		return e.keystore, nil
	default:
		return nil, fmt.Errorf("%w: no keystore configured", types.ErrBadContext)
	}
}

// keyLink returns the link reading a key's material.
func (e *Engine) keyLink(b *chain.Builder, uc *types.UserContext, key *types.KeyObject) (*chain.Link, error) {
	if key == nil {
		return nil, types.ErrKeyNotPresent
	}
	var fallback types.Keystore
	if key.IsEstablished() {
		store, err := e.keystoreFor(uc, key)
		if err != nil {
			return nil, err
		}
		fallback = store
	}
	return b.Key(key, fallback)
}

// request is one chain on its way to the executor.
type request struct {
	op   string
	uc   *types.UserContext
	b    *chain.Builder
	prep func(h *chain.Head)
}

func (e *Engine) newRequest(op string, uc *types.UserContext) *request {
	return &request{op: op, uc: uc, b: chain.NewBuilder(e.alloc, uc)}
}

// submit builds, aligns and submits r. Blocking requests are completed and
// torn down before submit returns. Non-blocking requests take a pool slot
// that Results gives back.
func (e *Engine) submit(ctx context.Context, r *request) error {
	defer r.b.Abort()
	blocking := r.uc.IsBlocking()
	if !blocking {
		if err := r.uc.Acquire(); err != nil {
			return err
		}
	}
	release := func() {
		if !blocking {
			r.uc.Release()
		}
	}

	h, err := r.b.Build()
	if err != nil {
		release()
		return err
	}
	h.ID = correlation.NewID()
	ctx, h.Correlation = correlation.Ensure(ctx)
	h.Retain = !blocking && retain(ctx)
	if r.prep != nil {
		r.prep(h)
	}
	if err := chain.Align(h, e.burst); err != nil {
		h.Destroy()
		release()
		return err
	}

	log := e.logger.With(
		logger.Operation(r.op),
		logger.RequestID(h.ID),
		logger.String("correlation_id", h.Correlation))
	descs := h.Descriptors()
	log.Debug("submitting chain", logger.Int("descriptors", descs), logger.Bool("blocking", blocking))
	metrics.RecordDescriptors(r.op, descs)

	done, err := e.exec.Submit(ctx, h)
	if err != nil {
		h.Destroy()
		release()
		return err
	}
	if !done {
		metrics.RequestSubmitted()
		return nil
	}

	err = h.Complete()
	if errors.Is(err, types.ErrAuthFailed) {
		log.Warn("authentication failed")
	}
	e.finish(h)
	release()
	return err
}

// finish destroys a completed chain unless it was retained.
func (e *Engine) finish(h *chain.Head) {
	if !h.Retain {
		h.Destroy()
		return
	}
	e.mu.Lock()
	e.retained[h.ID] = h
	e.mu.Unlock()
}

// pending reports whether a successful call through uc leaves a result
// to collect.
func pending(uc *types.UserContext) bool {
	return uc.Valid() && !uc.IsBlocking()
}

// observe records the outcome of an entry point call.
func observe(op string, pending bool, start time.Time, err error) {
	status := metrics.Status(err)
	if err == nil && pending {
		status = metrics.StatusPending
	}
	metrics.RecordOperation(op, status, time.Since(start).Seconds())
	metrics.RecordError(op, err)
}
