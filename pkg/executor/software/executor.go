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

// Package software is a reference executor that runs descriptor chains
// with Go's crypto primitives instead of an accelerator.
//
// It honours the accelerator's I/O rules rather than hiding them: CTR
// transfers must be whole blocks, DES keys must carry odd parity unless the
// descriptor skips the check, and hash state can only be saved on a block
// boundary. Requests that would fail on hardware fail here too.
//
// Blocking chains run on the submitting goroutine. Non-blocking chains run
// on a bounded set of worker goroutines and are queued per user context
// until polled.
package software

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jeremyhahn/go-shw/pkg/adapters/logger"
	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/crypto/rand"
	"github.com/jeremyhahn/go-shw/pkg/executor"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("software: executor closed")

	// ErrUnknownOpcode is returned for a descriptor the executor does not
	// implement.
	ErrUnknownOpcode = errors.New("software: unknown opcode")
)

// Config configures the executor.
type Config struct {
	// Workers bounds concurrently running non-blocking chains.
	// Defaults to runtime.NumCPU().
	Workers int

	// RNG backs the RNG unit. Defaults to a software resolver.
	RNG rand.Resolver

	// Logger receives per-chain debug records. Defaults to a no-op logger.
	Logger logger.Logger
}

// Executor runs chains in software.
type Executor struct {
	logger  logger.Logger
	rng     rand.Resolver
	workers *semaphore.Weighted

	mu     sync.Mutex
	queues map[*types.UserContext][]*chain.Head
	closed bool
	wg     sync.WaitGroup
}

var _ executor.Executor = (*Executor)(nil)

// New returns a ready executor.
func New(cfg *Config) (*Executor, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	rng := cfg.RNG
	if rng == nil {
		var err error
		if rng, err = rand.NewResolver(rand.ModeSoftware); err != nil {
			return nil, err
		}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{
		logger:  log,
		rng:     rng,
		workers: semaphore.NewWeighted(int64(workers)),
		queues:  make(map[*types.UserContext][]*chain.Head),
	}, nil
}

// Submit runs h now for blocking contexts and queues it otherwise.
func (e *Executor) Submit(ctx context.Context, h *chain.Head) (bool, error) {
	if h == nil || h.First == nil || h.Destroyed() {
		return false, fmt.Errorf("%w: empty chain", types.ErrInternal)
	}
	if !h.User.Valid() {
		return false, types.ErrBadContext
	}

	if h.User.IsBlocking() {
		h.Status = e.run(h)
		return true, nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		// Submission cannot be cancelled, so the worker slot is taken
		// without the caller's context.
		_ = e.workers.Acquire(context.Background(), 1)
		h.Status = e.run(h)
		e.workers.Release(1)

		uc := h.User
		e.mu.Lock()
		e.queues[uc] = append(e.queues[uc], h)
		e.mu.Unlock()

		if uc.Flags&types.UserFlagCallback != 0 && uc.Callback != nil {
			uc.Callback(uc)
		}
	}()
	return false, nil
}

// Poll removes up to max finished chains of uc, oldest first.
func (e *Executor) Poll(uc *types.UserContext, max int) []*chain.Head {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.queues[uc]
	if max <= 0 || max > len(q) {
		max = len(q)
	}
	out := make([]*chain.Head, max)
	copy(out, q[:max])
	if rest := q[max:]; len(rest) > 0 {
		e.queues[uc] = append([]*chain.Head(nil), rest...)
	} else {
		delete(e.queues, uc)
	}
	return out
}

// Close rejects further non-blocking submissions and waits for running
// chains to finish. Finished chains stay available to Poll.
func (e *Executor) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

// machine holds the unit registers for one chain.
type machine struct {
	rng    rand.Resolver
	hash   hashUnit
	cipher cipherUnit
}

func (e *Executor) run(h *chain.Head) error {
	start := time.Now()
	m := &machine{rng: e.rng}
	defer m.hash.reset()
	defer m.cipher.reset()

	n := 0
	for d := h.First; d != nil; d = d.Next {
		if err := m.step(d); err != nil {
			e.logger.Debug("chain failed",
				logger.RequestID(h.ID),
				logger.String("correlation_id", h.Correlation),
				logger.Int("descriptor", n),
				logger.String("opcode", d.Header.Opcode.String()),
				logger.Error(err))
			return err
		}
		n++
	}
	e.logger.Debug("chain executed",
		logger.RequestID(h.ID),
		logger.String("correlation_id", h.Correlation),
		logger.Int("descriptors", n),
		logger.Any("elapsed", time.Since(start)))
	return nil
}

func (m *machine) step(d *chain.Descriptor) error {
	// Execute the header as encoded for the accelerator.
	hdr, err := chain.DecodeHeader(d.Header.Encode())
	if err != nil {
		return err
	}
	switch hdr.Opcode {
	case chain.OpRNG:
		return m.random(d.Link2)
	case chain.OpHashLoad:
		return m.hash.load(hdr, d.Link1, d.Link2)
	case chain.OpHash:
		return m.hash.hash(hdr, d.Link1, d.Link2)
	case chain.OpHMACLoadKey:
		return m.hash.loadKey(hdr, d.Link1)
	case chain.OpHMACPrecompute:
		return m.hash.precompute(hdr, d.Link1, d.Link2)
	case chain.OpCipherLoad:
		return m.cipher.load(hdr, d.Link1, d.Link2)
	case chain.OpCipher:
		return m.cipher.cipher(hdr, d.Link1, d.Link2)
	case chain.OpCipherSave:
		return m.cipher.save(hdr, d.Link2)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOpcode, hdr.Opcode)
	}
}

func (m *machine) random(out *chain.Link) error {
	n := chain.ChainLen(out)
	if n == 0 {
		return fmt.Errorf("%w: empty RNG output", types.ErrBadLength)
	}
	b, err := m.rng.Rand(n)
	if err != nil {
		return err
	}
	defer clear(b)
	return scatter(out, b)
}
