package scankit

import (
	"errors"
	"sync"

	"github.com/gobeaver/beaver-kit/config"
	"github.com/gobeaver/scankit/threatscan"
)

// Global instance
var (
	defaultEngine *Engine
	defaultOnce   sync.Once
	defaultErr    error
)

// Builder provides a way to create engines from environment configuration
// with a custom variable prefix, for multi-tenant deployments.
type Builder struct {
	prefix string
	opts   []Option
}

// WithPrefix creates a new Builder with the specified environment prefix.
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Options adds construction options applied after the environment policy.
func (b *Builder) Options(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// New creates a new engine using the builder's prefix.
func (b *Builder) New() (*Engine, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return nil, err
	}
	opts := append([]Option{WithPolicy(cfg.Policy())}, b.opts...)
	return New(opts...), nil
}

// Init initializes the global engine from the environment (or an explicit
// config when given).
func Init(configs ...*Config) error {
	defaultOnce.Do(func() {
		var cfg *Config
		if len(configs) > 0 {
			cfg = configs[0]
		} else {
			cfg, defaultErr = GetConfig()
			if defaultErr != nil {
				return
			}
		}
		defaultEngine = New(WithPolicy(cfg.Policy()))
	})
	return defaultErr
}

// Default returns the global engine, initializing it from the environment
// on first use.
func Default() (*Engine, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	if defaultEngine == nil {
		return nil, errors.New("scankit: global engine not initialized")
	}
	return defaultEngine, nil
}

// ScanFile scans a file with the global engine.
func ScanFile(path, declaredName string) (*threatscan.Result, error) {
	engine, err := Default()
	if err != nil {
		return nil, err
	}
	return engine.ScanFile(path, declaredName)
}
