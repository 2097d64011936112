// Package daemon wires the session host, the bridge and the command gateway
// into one process.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/passivebridge/internal/config"
	"github.com/harun/passivebridge/internal/logger"
	"github.com/harun/passivebridge/internal/metrics"
	"github.com/harun/passivebridge/internal/observability"
	"github.com/harun/passivebridge/internal/simhost"
	"github.com/harun/passivebridge/internal/tracing"
	"github.com/harun/passivebridge/pkg/bridge"
	"github.com/harun/passivebridge/pkg/commandqueue"
	"github.com/harun/passivebridge/pkg/events"
	"github.com/harun/passivebridge/pkg/gateway"
)

const stopTimeout = 5 * time.Second

// Daemon represents the passivebridge daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Session host side
	bus         *events.Bus
	store       *simhost.Store
	platform    *simhost.Platform
	authHost    *simhost.AuthHost
	sessionHost *simhost.SessionHost
	sessionConn *simhost.Connection[bridge.SessionHost]
	authConn    *simhost.Connection[bridge.AuthHost]
	uploader    *simhost.Uploader
	hostMetrics *metrics.Metrics

	// Bridge and transport
	bridge        *bridge.Bridge
	queue         *commandqueue.CommandQueue
	gatewayServer *gateway.Server
	watcher       *config.Watcher

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// Status is a snapshot of the daemon state.
type Status struct {
	Running     bool
	Uptime      time.Duration
	StartTime   time.Time
	Addr        string
	BridgeState bridge.State
}

// New creates a daemon. Nothing runs until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil || log == nil {
		return nil, fmt.Errorf("config and logger are required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if cfg.Host.DatabasePath == "" {
		cfg.Host.DatabasePath = filepath.Join(cfg.DataDir, "host.db")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := d.initializeHost(); err != nil {
		d.closeHost()
		cancel()
		return nil, err
	}
	if err := d.initializeServices(); err != nil {
		d.closeHost()
		cancel()
		return nil, err
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initializeHost() error {
	zl := d.logger.GetZerolog()

	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	d.bus = events.NewBus(d.logger.Component("bus"))

	var err error
	d.store, err = simhost.OpenStore(d.config.Host.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open host store: %w", err)
	}

	d.authHost, err = simhost.NewAuthHost(d.store, zl)
	if err != nil {
		return fmt.Errorf("failed to create auth host: %w", err)
	}

	d.platform = simhost.NewPlatform(d.config.Host.ServicePermissions...)
	d.sessionHost, err = simhost.NewSessionHost(simhost.Options{
		Config:   d.config.Host,
		Bus:      d.bus,
		Store:    d.store,
		Auth:     d.authHost,
		Platform: d.platform,
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create session host: %w", err)
	}

	d.hostMetrics = metrics.NewMetrics()
	d.uploader, err = simhost.NewUploader(d.config.Host.UploadSchedule, d.sessionHost, d.config.Host.RecordsPerCycle, d.hostMetrics, zl)
	if err != nil {
		return err
	}

	delay := d.config.Host.BindDelay()
	d.sessionConn = simhost.NewConnection[bridge.SessionHost]("session", d.sessionHost, delay, zl)
	d.authConn = simhost.NewConnection[bridge.AuthHost]("auth", d.authHost, delay, zl)

	d.logger.Info().
		Str("database", d.config.Host.DatabasePath).
		Int("plugins", len(d.config.Host.Plugins)).
		Str("schedule", d.config.Host.UploadSchedule).
		Msg("Session host initialized")
	return nil
}

func (d *Daemon) initializeServices() error {
	zl := d.logger.GetZerolog()

	d.bridge = bridge.New(bridge.Options{
		Session:              d.sessionConn,
		Auth:                 d.authConn,
		Config:               d.store,
		Bus:                  d.bus,
		Platform:             d.platform,
		BluetoothPermissions: d.config.Bridge.BluetoothPermissions,
		OnStateChange:        d.onBridgeState,
		Logger:               zl,
	})
	for _, r := range d.sessionHost.Requesters() {
		r.SetResultHandler(d.bridge.OnPermissionsResult)
	}

	d.queue = commandqueue.New(zl)

	var err error
	d.gatewayServer, err = gateway.NewServer(gateway.Config{
		Host:            d.config.Gateway.Host,
		Port:            d.config.Gateway.Port,
		SharedSecret:    d.config.Gateway.SharedSecret,
		TickInterval:    d.config.Gateway.TickInterval(),
		MaxAuthAttempts: d.config.Gateway.MaxAuthAttempts,
		Limits: gateway.Limits{
			RequestsPerMinute: d.config.Gateway.RequestsPerMinute,
			MaxConcurrent:     d.config.Gateway.MaxConcurrent,
		},
		Handlers: map[string]http.Handler{
			"/metrics/host": d.hostMetrics.Handler(),
		},
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}

	if err := bridge.RegisterGatewayMethods(d.gatewayServer, d.bridge, d.queue); err != nil {
		return fmt.Errorf("failed to register bridge methods: %w", err)
	}

	d.logger.Info().Int("methods", len(d.gatewayServer.Methods())).Msg("Gateway methods registered")
	return nil
}

func (d *Daemon) onBridgeState(s bridge.State) {
	d.logger.Debug().Str("state", s.String()).Msg("Bridge state changed")
	if d.gatewayServer != nil {
		d.gatewayServer.BroadcastTyped(bridge.StateEvent(s))
	}
}

// WatchConfig reloads the log level whenever the file behind loader changes.
// Call it before Start.
func (d *Daemon) WatchConfig(loader *config.Loader) error {
	w, err := config.NewWatcher(config.WatcherConfig{
		Loader:   loader,
		OnChange: d.applyConfig,
		Logger:   d.logger.GetZerolog(),
	})
	if err != nil {
		return err
	}
	d.watcher = w
	return nil
}

func (d *Daemon) applyConfig(cfg *config.Config) {
	d.mu.Lock()
	previous := d.config.Logging.Level
	d.config.Logging.Level = cfg.Logging.Level
	d.mu.Unlock()

	if previous == cfg.Logging.Level {
		return
	}
	if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to apply log level")
		return
	}
	observability.RecordConfigAudit(d.ctx, "config.reload", "watcher", "applied", map[string]interface{}{
		"logLevel": cfg.Logging.Level,
	})
	d.logger.Info().Str("from", previous).Str("to", cfg.Logging.Level).Msg("Log level changed")
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

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting passivebridge daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	d.uploader.Start()

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Config watcher not started")
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("Daemon started successfully")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon service gracefully. Stored credentials are kept.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping passivebridge daemon")

	if err := d.gatewayServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if err := d.uploader.Stop(stopTimeout); err != nil {
		logger.Warn().Err(err).Msg("Upload cycle still running")
	}

	d.bridge.Destroy()
	d.eventLoop.HandleShutdown()

	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close command queue")
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(stopTimeout):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	d.closeHost()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// closeHost releases whatever initializeHost managed to create.
func (d *Daemon) closeHost() {
	if d.sessionConn != nil {
		d.sessionConn.Unbind()
		d.sessionConn.Wait()
	}
	if d.authConn != nil {
		d.authConn.Unbind()
		d.authConn.Wait()
	}
	if d.sessionHost != nil {
		d.sessionHost.Close()
	}
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close notification bus")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close host store")
		}
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:     d.running,
		BridgeState: d.bridge.State(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.gatewayServer.Addr()
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Addr returns the gateway address once started.
func (d *Daemon) Addr() string {
	return d.gatewayServer.Addr()
}

func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

func (d *Daemon) GetBridge() *bridge.Bridge {
	return d.bridge
}

func (d *Daemon) GetSessionHost() *simhost.SessionHost {
	return d.sessionHost
}

func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}
