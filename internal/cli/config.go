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
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-shw/internal/config"
	"github.com/jeremyhahn/go-shw/pkg/adapters/logger"
	"github.com/jeremyhahn/go-shw/pkg/crypto/rand"
	"github.com/jeremyhahn/go-shw/pkg/executor/software"
	"github.com/jeremyhahn/go-shw/pkg/keystore"
	"github.com/jeremyhahn/go-shw/pkg/metrics"
	"github.com/jeremyhahn/go-shw/pkg/shw"
	"github.com/jeremyhahn/go-shw/pkg/storage"
	"github.com/jeremyhahn/go-shw/pkg/storage/file"
	"github.com/jeremyhahn/go-shw/pkg/storage/memory"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the YAML configuration file. Defaults
	// apply when empty.
	ConfigFile string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// LogLevel overrides the configured log level when set
	LogLevel string

	// Metrics prints the Prometheus metrics to stderr after the command
	Metrics bool

	// Owner is the owner ID keys are established under
	Owner uint64
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: "text",
		Owner:        1,
	}
}

// session is the engine stack assembled for a single command.
type session struct {
	settings *config.Config
	logger   logger.Logger
	engine   *shw.Engine
	user     *types.UserContext
	owner    types.OwnerID

	closers []io.Closer
}

// open loads the configuration and builds the executor, keystore and
// engine it describes. Log records go to logOut.
func (c *Config) open(logOut io.Writer) (*session, error) {
	settings, err := config.LoadOrDefault(c.ConfigFile)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		settings.Logging.Level = c.LogLevel
	}
	level, err := logger.ParseLevel(settings.Logging.Level)
	if err != nil {
		return nil, err
	}
	log := logger.NewSlogAdapter(&logger.SlogConfig{
		Level:  level,
		Format: settings.Logging.Format,
		Output: logOut,
	})

	if c.Metrics || settings.Metrics.Enabled {
		metrics.Enable()
	}

	s := &session{
		settings: settings,
		logger:   log,
		owner:    types.OwnerID(c.Owner),
	}

	rng, err := rand.NewResolver(rand.ModeSoftware)
	if err != nil {
		return nil, err
	}
	exec, err := software.New(&software.Config{
		Workers: settings.Executor.Workers,
		RNG:     rng,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, exec)

	store, err := s.openKeystore(&settings.Keystore, rng)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	engineCfg := &shw.Config{
		Executor: exec,
		Keystore: store,
		Burst:    settings.Executor.Burst,
		Logger:   log,
	}
	nonce, err := settings.Wrap.Nonce()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if len(nonce) > 0 {
		log.Warn("wrap nonce is fixed; wrapped keys are repeatable")
		if engineCfg.Nonce, err = rand.NewFixedResolver(nonce); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	if s.engine, err = shw.New(engineCfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.user = types.NewUserContext(types.UserFlagBlocking, settings.Executor.PoolSize)

	log.Debug("session ready",
		logger.String("keystore", settings.Keystore.Type),
		logger.Int("workers", settings.Executor.Workers),
		logger.Int("burst", settings.Executor.Burst))
	return s, nil
}

// openKeystore opens the configured system keystore and registers it, and
// any storage beneath it, for Close.
func (s *session) openKeystore(cfg *config.KeystoreConfig, rng rand.Resolver) (types.Keystore, error) {
	secret, err := cfg.Secret()
	if err != nil {
		return nil, err
	}
	ksCfg := &keystore.Config{
		Slots:        cfg.Slots,
		SlotSize:     cfg.SlotSize,
		DeviceSecret: secret,
		RNG:          rng,
	}
	var backend storage.Backend
	switch cfg.Type {
	case config.KeystoreFile:
		if backend, err = file.New(cfg.Path); err != nil {
			return nil, fmt.Errorf("failed to open keystore directory: %w", err)
		}
	case config.KeystoreSealed:
		backend = memory.New()
	}
	if backend != nil {
		s.closers = append(s.closers, backend)
		store, err := keystore.NewBackendStore(backend, ksCfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store)
		return store, nil
	}
	store, err := keystore.NewSlotStore(ksCfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store)
	return store, nil
}

// Close releases the keystore and stops the executor.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
