// Package bootstrap wires configuration, logging and the actor system into a
// runnable application with signal-driven graceful shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/arborlab/arbor/config"
	"github.com/arborlab/arbor/logging"
	"github.com/arborlab/arbor/system"
)

// Option customizes application construction.
type Option func(*options)

type options struct {
	configFile string
	cfg        *config.Config
	logger     *zerolog.Logger
	watch      bool
}

// WithConfigFile loads configuration from the given file instead of the
// loader's search paths.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configFile = path }
}

// WithConfig supplies a pre-built configuration, skipping file loading.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger supplies a pre-built logger instead of one derived from the
// configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithConfigWatch enables hot-reload of the configuration file. It only takes
// effect together with WithConfigFile.
func WithConfigWatch() Option {
	return func(o *options) { o.watch = true }
}

// Application owns the assembled runtime: configuration, logger, actor system
// and the optional config watcher.
type Application struct {
	cfg    *config.Config
	logger zerolog.Logger
	sys    *system.System

	watcher *config.Watcher

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// New assembles an application. Without options the configuration is
// auto-loaded from the standard search paths, falling back to defaults.
func New(opts ...Option) (*Application, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	loader := config.NewLoader()
	cfg := o.cfg
	if cfg == nil {
		var err error
		if o.configFile != "" {
			cfg, err = loader.LoadFromFile(o.configFile)
		} else {
			cfg, err = loader.AutoLoad()
		}
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var logger zerolog.Logger
	if o.logger != nil {
		logger = *o.logger
	} else {
		level := logging.ParseLevel(string(cfg.Log.Level))
		if cfg.Log.Format == "json" {
			logger = logging.NewJSON(cfg.App.Name, level, os.Stdout)
		} else {
			logger = logging.New(cfg.App.Name, level)
		}
	}

	sys, err := system.New(cfg.SystemConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("build actor system: %w", err)
	}

	app := &Application{
		cfg:    cfg,
		logger: logger,
		sys:    sys,
		done:   make(chan struct{}),
	}

	if o.watch && o.configFile != "" {
		watcher, err := config.NewWatcher(o.configFile, loader)
		if err != nil {
			return nil, fmt.Errorf("config watcher: %w", err)
		}
		watcher.OnConfigChange(app.applyConfigChange)
		app.watcher = watcher
	}
	return app, nil
}

// System returns the application's actor system.
func (a *Application) System() *system.System { return a.sys }

// Config returns the loaded configuration.
func (a *Application) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Logger returns the application logger.
func (a *Application) Logger() zerolog.Logger { return a.logger }

// Start begins background services. Actors can be spawned before or after.
func (a *Application) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
	}
	a.running = true
	a.logger.Info().Str("app", a.cfg.App.Name).Msg("application started")
	return nil
}

// Run starts the application and blocks until SIGINT/SIGTERM arrives, a
// supervisor escalation surfaces, or Shutdown is called from elsewhere. It
// always attempts a graceful shutdown before returning.
func (a *Application) Run() error {
	if err := a.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var runErr error
	select {
	case s := <-sig:
		a.logger.Info().Stringer("signal", s).Msg("shutdown signal received")
	case err := <-a.sys.FatalErrors():
		a.logger.Error().Err(err).Msg("fatal supervision failure")
		runErr = err
	case <-a.done:
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := a.Shutdown(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops the watcher and the actor system. It is idempotent.
func (a *Application) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return a.sys.Shutdown(ctx)
	}
	a.running = false
	close(a.done)
	watcher := a.watcher
	a.mu.Unlock()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			a.logger.Warn().Err(err).Msg("config watcher stop failed")
		}
	}
	err := a.sys.Shutdown(ctx)
	a.logger.Info().Msg("application stopped")
	return err
}

func (a *Application) shutdownTimeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t := a.cfg.Actor.ShutdownTimeout; t > 0 {
		return t
	}
	return 30 * time.Second
}

// applyConfigChange reacts to a hot-reloaded configuration. Only settings
// that can change at runtime are applied; structural ones need a restart.
func (a *Application) applyConfigChange(oldCfg, newCfg *config.Config) {
	a.mu.Lock()
	a.cfg = newCfg
	a.mu.Unlock()

	if oldCfg == nil || oldCfg.Log.Level != newCfg.Log.Level {
		zerolog.SetGlobalLevel(logging.ParseLevel(string(newCfg.Log.Level)))
		a.logger.Info().Str("level", string(newCfg.Log.Level)).Msg("log level updated")
	}
}
