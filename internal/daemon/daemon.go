// Package daemon wires the execution registry, tool bridge, history
// archive, maintenance scheduler, and gateway into one service with a
// single lifecycle. All components are dependency-injected here; no
// package holds global state.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/yudha/arus/internal/config"
	"github.com/yudha/arus/internal/logger"
	"github.com/yudha/arus/internal/observability"
	"github.com/yudha/arus/pkg/gateway"
	"github.com/yudha/arus/pkg/history"
	"github.com/yudha/arus/pkg/maintenance"
	"github.com/yudha/arus/pkg/stream"
	"github.com/yudha/arus/pkg/toolbridge"
	"github.com/yudha/arus/pkg/workpool"
)

// Status describes the daemon's current state
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
}

// Daemon is the arus daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	manager      *stream.Manager
	pool         *workpool.Pool
	bridge       *toolbridge.Bridge
	historyStore *history.Store
	scheduler    *maintenance.Scheduler
	gateway      *gateway.Server

	configWatcher *config.Watcher

	dispatcher   gateway.Dispatcher
	dispatcherMu sync.RWMutex

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := &Daemon{
		config: cfg,
		logger: log,
	}
	d.dispatcher = d.defaultDispatcher

	if err := d.initializeCoreModules(); err != nil {
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	d.manager = stream.NewManager(stream.Config{
		Retention: d.config.RetentionWindow(),
		Logger:    d.logger.GetZerolog(),
	})
	d.logger.Info().
		Dur("retention", d.config.RetentionWindow()).
		Msg("Execution manager initialized")

	d.pool = workpool.New(workpool.Config{
		Workers: d.config.Tools.PoolWorkers,
		Logger:  d.logger.GetZerolog(),
	})
	d.logger.Info().Int("workers", d.config.Tools.PoolWorkers).Msg("Worker pool initialized")

	bridge, err := toolbridge.New(toolbridge.Config{
		Pool:              d.pool,
		HeartbeatInterval: time.Duration(d.config.Tools.HeartbeatSeconds) * time.Second,
		Timeout:           time.Duration(d.config.Tools.TimeoutSeconds) * time.Second,
		Logger:            d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create tool bridge: %w", err)
	}
	d.bridge = bridge
	d.logger.Info().Msg("Tool bridge initialized")

	return nil
}

func (d *Daemon) initializeServices() error {
	if d.config.History.Enabled {
		path := d.config.History.Path
		if path == "" {
			path = filepath.Join(d.config.DataDir, "history.db")
		}
		store, err := history.NewStore(history.Config{
			Path:   path,
			Logger: d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create history store: %w", err)
		}
		d.historyStore = store
		d.logger.Info().Str("path", path).Msg("History store initialized")
	}

	if d.config.Maintenance.Enabled {
		var archiver maintenance.Archiver
		if d.historyStore != nil {
			archiver = d.historyStore
		}
		scheduler, err := maintenance.New(maintenance.Config{
			Manager:  d.manager,
			Archiver: archiver,
			Schedule: d.config.Maintenance.Schedule,
			Logger:   d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create maintenance scheduler: %w", err)
		}
		d.scheduler = scheduler
		d.logger.Info().Str("schedule", d.config.Maintenance.Schedule).Msg("Maintenance scheduler initialized")
	}

	if d.config.Gateway.Enabled {
		server, err := gateway.NewServer(gateway.Config{
			Port:         d.config.Gateway.Port,
			SharedSecret: d.config.Gateway.SharedSecret,
			Manager:      d.manager,
			Dispatcher: func(execution *stream.Execution, req gateway.CreateRequest) stream.Producer {
				d.dispatcherMu.RLock()
				dispatch := d.dispatcher
				d.dispatcherMu.RUnlock()
				return dispatch(execution, req)
			},
			Logger: d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway server: %w", err)
		}
		d.gateway = server
		d.logger.Info().Int("port", d.config.Gateway.Port).Msg("Gateway server initialized")
	}

	return nil
}

// SetDispatcher installs the producer factory that drives new executions.
// The embedding application calls this before Start to plug in its agent
// runtime; without one, created executions fail with a configuration error.
func (d *Daemon) SetDispatcher(dispatcher gateway.Dispatcher) {
	d.dispatcherMu.Lock()
	defer d.dispatcherMu.Unlock()
	d.dispatcher = dispatcher
}

func (d *Daemon) defaultDispatcher(execution *stream.Execution, req gateway.CreateRequest) stream.Producer {
	return func(ctx context.Context) error {
		return fmt.Errorf("no execution dispatcher configured")
	}
}

// WatchConfig starts watching the loader's config file; log level changes
// are applied without restart.
func (d *Daemon) WatchConfig(loader *config.Loader) error {
	watcher, err := config.NewWatcher(loader, d.logger.GetZerolog(), func(cfg *config.Config) {
		d.logger.Info().Str("level", cfg.Logging.Level).Msg("Configuration reloaded")
		d.logger.SetLevel(cfg.Logging.Level)
	})
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	d.configWatcher = watcher
	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info().Msg("Starting arus daemon")

	if d.scheduler != nil {
		if err := d.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start maintenance scheduler: %w", err)
		}
		d.logger.Info().Msg("Maintenance scheduler started")
	}

	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			return fmt.Errorf("failed to start gateway server: %w", err)
		}
		d.logger.Info().Msg("Gateway server started")
	}

	d.logger.Info().Msg("Daemon started successfully")
	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping arus daemon")

	if d.configWatcher != nil {
		if err := d.configWatcher.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if d.gateway != nil {
		if err := d.gateway.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	if d.scheduler != nil {
		d.scheduler.Stop()
		// final archive pass so terminal executions are not lost
		if d.historyStore != nil {
			if archived, err := d.scheduler.Sweep(); err != nil {
				d.logger.Warn().Err(err).Msg("Final archive sweep failed")
			} else if archived > 0 {
				d.logger.Info().Int("archived", archived).Msg("Final archive sweep completed")
			}
		}
	}

	if err := d.manager.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close execution manager")
	}

	if err := d.pool.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close worker pool")
	}

	if d.historyStore != nil {
		if err := d.historyStore.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close history store")
		}
	}

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Status returns the daemon's current status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
	}
	return status
}

// Manager returns the execution registry
func (d *Daemon) Manager() *stream.Manager {
	return d.manager
}

// Bridge returns the tool bridge
func (d *Daemon) Bridge() *toolbridge.Bridge {
	return d.bridge
}

// History returns the history store, nil when disabled
func (d *Daemon) History() *history.Store {
	return d.historyStore
}

// Gateway returns the gateway server, nil when disabled
func (d *Daemon) Gateway() *gateway.Server {
	return d.gateway
}
