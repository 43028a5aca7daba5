// Package session owns the connections of one run: the plotting engine and,
// when enabled, the tordir database.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"ernie-graphs/internal/infra/config"
	"ernie-graphs/internal/infra/log"
	"ernie-graphs/internal/plotting"
	"ernie-graphs/internal/tordir"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

type EngineOpener func(ctx context.Context, cfg config.EngineConfig) (plotting.Engine, error)
type StoreOpener func(ctx context.Context, cfg config.DatabaseConfig) (*tordir.Store, error)

type options struct {
	openEngine EngineOpener
	openStore  StoreOpener
}

type Option func(*options)

// WithEngineOpener replaces the backend selected by cfg.Engine.Backend
func WithEngineOpener(open EngineOpener) Option {
	return func(o *options) { o.openEngine = open }
}

func WithStoreOpener(open StoreOpener) Option {
	return func(o *options) { o.openStore = open }
}

// WithDryRun prints render expressions to w instead of connecting to R
func WithDryRun(w io.Writer) Option {
	return WithEngineOpener(func(context.Context, config.EngineConfig) (plotting.Engine, error) {
		return &plotting.DryRunEngine{W: w}, nil
	})
}

type Session struct {
	Engine plotting.Engine
	Store  *tordir.Store // nil unless database.enabled

	closeOnce sync.Once
	closeErr  error
}

// Open connects the engine, then the database if enabled. Neither is retried.
// When the database fails the engine is released before returning.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	o := options{openEngine: OpenEngine, openStore: OpenStore}
	for _, opt := range opts {
		opt(&o)
	}

	engine, err := o.openEngine(ctx, cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("connect to plotting engine (%s): %w", cfg.Engine.Backend, err)
	}
	s := &Session{Engine: engine}

	if cfg.Database.Enabled {
		store, err := o.openStore(ctx, cfg.Database)
		if err != nil {
			if cerr := engine.Close(); cerr != nil {
				log.LogWarn("Failed to release plotting engine", zap.Error(cerr))
			}
			return nil, err
		}
		s.Store = store
	}
	return s, nil
}

// Close releases every connection exactly once. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var result *multierror.Error
		if err := s.Engine.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close plotting engine: %w", err))
		}
		if s.Store != nil {
			if err := s.Store.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close database: %w", err))
			}
		}
		s.closeErr = result.ErrorOrNil()
		if s.closeErr != nil {
			log.LogWarn("Session closed with errors", zap.Error(s.closeErr))
		} else {
			log.LogInfo("Session closed")
		}
	})
	return s.closeErr
}

// OpenEngine builds the backend named by cfg.Backend
func OpenEngine(ctx context.Context, cfg config.EngineConfig) (plotting.Engine, error) {
	switch cfg.Backend {
	case config.BackendRserve, "":
		e, err := plotting.DialRserve(ctx, plotting.RserveOptions{
			Addr:       cfg.Addr,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			RateLimit:  cfg.RateLimit,
		})
		if err != nil {
			return nil, err
		}
		log.LogInfo("Connected to Rserve", zap.String("addr", cfg.Addr))
		return e, nil
	case config.BackendRscript:
		return plotting.NewRscriptEngine(cfg.RscriptPath, cfg.Sources, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown engine backend %q", cfg.Backend)
}

func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (*tordir.Store, error) {
	return tordir.Open(ctx, tordir.Config{
		Driver:   cfg.Driver,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Name:     cfg.Name,
	})
}
