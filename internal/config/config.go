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

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-shw/internal/encoding"
	"github.com/jeremyhahn/go-shw/pkg/adapters/logger"
	"github.com/jeremyhahn/go-shw/pkg/chain"
	"github.com/jeremyhahn/go-shw/pkg/keystore"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// Keystore types. A sealed keystore keeps AES-GCM sealed slots in memory;
// a file keystore keeps them on disk.
const (
	KeystoreMemory = "memory"
	KeystoreSealed = "sealed"
	KeystoreFile   = "file"
)

// Config represents the complete shwctl configuration
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Executor ExecutorConfig `yaml:"executor"`
	Keystore KeystoreConfig `yaml:"keystore"`
	Wrap     WrapConfig     `yaml:"wrap"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig controls Prometheus metrics collection
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ExecutorConfig controls the software executor and the request pool
type ExecutorConfig struct {
	// Workers bounds concurrently running non-blocking chains. Zero
	// selects the number of CPUs.
	Workers int `yaml:"workers"`

	// PoolSize bounds outstanding non-blocking requests per user context.
	PoolSize int `yaml:"pool_size"`

	// Burst is the DMA burst width used when aligning chains. Zero selects
	// chain.DefaultBurst.
	Burst int `yaml:"burst"`
}

// KeystoreConfig selects and configures the system keystore
type KeystoreConfig struct {
	Type     string `yaml:"type"` // memory, sealed, file
	Slots    int    `yaml:"slots"`
	SlotSize int    `yaml:"slot_size"`

	// Path is the directory holding sealed slots for the file keystore.
	Path string `yaml:"path"`

	// DeviceSecret is the hex encoded device-bound secret. Wrapped keys
	// only unwrap under the secret they were wrapped with.
	DeviceSecret string `yaml:"device_secret"`
}

// WrapConfig controls key wrapping
type WrapConfig struct {
	// FixedNonce is a hex pattern repeated to form the wrap nonce. It
	// makes wrapped blobs repeatable and must never be set in production.
	FixedNonce string `yaml:"fixed_nonce"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Executor: ExecutorConfig{
			PoolSize: types.DefaultPoolSize,
			Burst:    chain.DefaultBurst,
		},
		Keystore: KeystoreConfig{
			Type:     KeystoreMemory,
			Slots:    keystore.DefaultSlots,
			SlotSize: keystore.DefaultSlotSize,
		},
	}
}

// Load reads configuration from a YAML file. Values missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is not empty and returns the validated
// defaults otherwise. Environment overrides apply in both cases.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid %s value %q, using default %d: %v", name, v, *dst, err)
		return
	}
	if n < 0 {
		log.Printf("Warning: invalid %s value %q (must not be negative), using default %d", name, v, *dst)
		return
	}
	*dst = n
}

func applyEnvOverrides(cfg *Config) {
	// Logging
	if level := os.Getenv("SHW_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("SHW_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Metrics
	if enabled := os.Getenv("SHW_METRICS_ENABLED"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			log.Printf("Warning: invalid SHW_METRICS_ENABLED value %q, using default %t: %v",
				enabled, cfg.Metrics.Enabled, err)
		} else {
			cfg.Metrics.Enabled = b
		}
	}

	// Executor
	envInt("SHW_WORKERS", &cfg.Executor.Workers)
	envInt("SHW_POOL_SIZE", &cfg.Executor.PoolSize)
	envInt("SHW_BURST", &cfg.Executor.Burst)

	// Keystore
	if ksType := os.Getenv("SHW_KEYSTORE_TYPE"); ksType != "" {
		cfg.Keystore.Type = ksType
	}
	if path := os.Getenv("SHW_KEYSTORE_PATH"); path != "" {
		cfg.Keystore.Path = path
	}
	envInt("SHW_KEYSTORE_SLOTS", &cfg.Keystore.Slots)
	if secret := os.Getenv("SHW_DEVICE_SECRET"); secret != "" {
		cfg.Keystore.DeviceSecret = secret
	}

	// Wrap
	if nonce := os.Getenv("SHW_WRAP_FIXED_NONCE"); nonce != "" {
		cfg.Wrap.FixedNonce = nonce
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Executor.Workers < 0 {
		return fmt.Errorf("executor workers must not be negative: %d", c.Executor.Workers)
	}
	if c.Executor.PoolSize < 0 {
		return fmt.Errorf("executor pool size must not be negative: %d", c.Executor.PoolSize)
	}
	if b := c.Executor.Burst; b < 0 || (b > 0 && b&(b-1) != 0) {
		return fmt.Errorf("burst width must be a power of two: %d", b)
	}

	switch c.Keystore.Type {
	case KeystoreMemory, KeystoreSealed:
		if c.Keystore.Slots < 0 {
			return fmt.Errorf("keystore slots must not be negative: %d", c.Keystore.Slots)
		}
	case KeystoreFile:
		if c.Keystore.Path == "" {
			return fmt.Errorf("file keystore requires a path")
		}
	default:
		return fmt.Errorf("invalid keystore type: %q (must be memory, sealed or file)", c.Keystore.Type)
	}
	if c.Keystore.SlotSize < 0 {
		return fmt.Errorf("keystore slot size must not be negative: %d", c.Keystore.SlotSize)
	}
	if size := c.Keystore.SlotSize; size > 0 && size%16 != 0 {
		return fmt.Errorf("keystore slot size must be a multiple of 16: %d", size)
	}

	secret, err := c.Keystore.Secret()
	if err != nil {
		return err
	}
	if c.Keystore.Type == KeystoreFile && len(secret) == 0 {
		return fmt.Errorf("file keystore requires a device secret")
	}

	if _, err := c.Wrap.Nonce(); err != nil {
		return err
	}
	return nil
}

// Secret decodes the device secret. It returns nil when none is configured.
func (k *KeystoreConfig) Secret() ([]byte, error) {
	if k.DeviceSecret == "" {
		return nil, nil
	}
	secret, err := encoding.DecodeHex(k.DeviceSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid device secret: %w", err)
	}
	if len(secret) < 16 {
		return nil, fmt.Errorf("device secret must be at least 16 bytes, got %d", len(secret))
	}
	return secret, nil
}

// Nonce decodes the fixed wrap nonce pattern. It returns nil when none is
// configured.
func (w *WrapConfig) Nonce() ([]byte, error) {
	if w.FixedNonce == "" {
		return nil, nil
	}
	nonce, err := encoding.DecodeHex(w.FixedNonce)
	if err != nil {
		return nil, fmt.Errorf("invalid wrap nonce: %w", err)
	}
	return nonce, nil
}
