package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"hotcrypt/internal/clipboard"
	"hotcrypt/internal/config"
	"hotcrypt/internal/engine"
	"hotcrypt/internal/input"
	"hotcrypt/internal/ipc"
	"hotcrypt/internal/logging"
	"hotcrypt/internal/metrics"
	"hotcrypt/internal/notify"
	"hotcrypt/internal/permission"
	"hotcrypt/internal/runloop"
	"hotcrypt/internal/security"
	"hotcrypt/internal/shortcut"
	"hotcrypt/internal/textcrypt"
	"hotcrypt/internal/vault"
)

// Daemon owns every long-lived component of hotcryptd.
type Daemon struct {
	loader   *config.Loader
	logger   *logging.Logger
	loop     *runloop.Loop
	vault    *vault.Vault
	injector input.Injector
	notifier notify.Notifier
	engine   *engine.Engine
	server   *ipc.Server
	lock     *security.InstanceLock
	metrics  *metrics.Registry

	unsubscribe func()
}

// runDaemon loads the configuration, starts the daemon and blocks until
// SIGINT or SIGTERM.
func runDaemon(path, levelOverride string) error {
	if err := security.DisableCoreDumps(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not disable core dumps: %v\n", err)
	}
	if security.RunningAsRoot() {
		return errors.New("refusing to run as root")
	}

	lock, err := security.AcquireInstanceLock(config.LockPath())
	if err != nil {
		if errors.Is(err, security.ErrAlreadyLocked) {
			return errors.New("hotcryptd is already running")
		}
		return fmt.Errorf("acquire instance lock: %w", err)
	}

	d, err := newDaemon(path, levelOverride, lock)
	if err != nil {
		lock.Release()
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return d.run(ctx)
}

func newDaemon(path, levelOverride string, lock *security.InstanceLock) (*Daemon, error) {
	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if levelOverride != "" {
		cfg.Logging.Level = levelOverride
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info("wrote default configuration", "path", path)
	}

	d := &Daemon{
		loader: config.NewLoader(path),
		logger: logger,
		lock:   lock,
	}
	if _, err := d.loader.Load(); err != nil {
		d.cleanup()
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := d.build(cfg); err != nil {
		d.cleanup()
		return nil, err
	}
	return d, nil
}

// build wires the platform adapters, the engine and the control socket.
func (d *Daemon) build(cfg *config.Config) error {
	d.loop = runloop.New(d.logger.WithComponent("runloop"))
	d.metrics = metrics.NewRegistry("hotcrypt")

	v, err := openVault(cfg.Vault, d.logger)
	if err != nil {
		return err
	}
	d.vault = v

	d.injector, err = input.NewPlatformInjector()
	if err != nil {
		return fmt.Errorf("open key injector: %w", err)
	}

	d.notifier, err = notify.New(notify.Options{
		Backend: cfg.Notify.Backend,
		AppName: cfg.Notify.AppName,
		Timeout: time.Duration(cfg.Notify.TimeoutMs) * time.Millisecond,
		Logger:  d.logger.WithComponent("notify"),
	})
	if err != nil {
		return fmt.Errorf("set up notifications: %w", err)
	}

	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	d.engine, err = engine.New(engine.Deps{
		Vault:     d.vault,
		Backend:   shortcut.NewPlatformBackend(),
		Clipboard: clipboard.NewSystem(),
		Injector:  d.injector,
		Crypto:    textcrypt.New(),
		Notifier:  d.notifier,
		Oracle:    permission.NewPlatformOracle(),
		Scheduler: d.loop,
		Logger:    d.logger,
		Metrics:   d.metrics,
	}, opts)
	if err != nil {
		return err
	}

	srvCfg := ipc.DefaultServerConfig(cfg.IPC.SocketPath)
	srvCfg.Version = Version
	srvCfg.MaxConnections = cfg.IPC.MaxConnections
	srvCfg.RequestTimeout = cfg.IPC.RequestTimeout()
	srvCfg.Logger = d.logger

	var server *ipc.Server
	handler := ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Controller: d.engine,
		Reload:     d.loader.Reload,
		Version:    Version,
		Clients:    func() int { return server.ClientCount() },
		Metrics:    d.metrics,
		Logger:     d.logger,
	})
	server, err = ipc.NewServer(srvCfg, handler)
	if err != nil {
		return fmt.Errorf("create ipc server: %w", err)
	}
	d.server = server
	d.unsubscribe = d.engine.Subscribe(d.server.Broadcast)

	d.loader.OnChange(d.applyConfig)
	return nil
}

// applyConfig pushes a reloaded configuration into the engine. Socket,
// vault and logging changes need a restart.
func (d *Daemon) applyConfig(old, cfg *config.Config) {
	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		d.logger.Error("ignoring reloaded config", "error", err)
		return
	}
	if err := d.engine.Reconfigure(opts); err != nil {
		d.logger.Error("apply reloaded config", "error", err)
		return
	}
	if old != nil && (!reflect.DeepEqual(old.Vault, cfg.Vault) || old.IPC != cfg.IPC || old.Logging != cfg.Logging) {
		d.logger.Warn("vault, ipc and logging changes take effect after a restart")
	}
	d.logger.Info("configuration reloaded")
}

func (d *Daemon) run(ctx context.Context) error {
	defer d.cleanup()

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	if err := d.loader.Watch(); err != nil {
		d.logger.Warn("config hot reload unavailable", "error", err)
	}

	// The loop outlives ctx so a run in flight at shutdown can restore the
	// clipboard.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopErr := make(chan error, 1)
	go func() { loopErr <- d.loop.Run(loopCtx) }()

	d.engine.Start()
	d.logger.Info("hotcryptd started",
		"version", Version,
		"socket", d.server.SocketPath(),
		"config", d.loader.Path(),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down")
			d.engine.Shutdown(context.Background())
			stopLoop()
			<-d.loop.Done()
			return nil
		case err := <-d.loader.Errors():
			d.logger.Error("config reload failed", "error", err)
		case err := <-loopErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run loop: %w", err)
			}
			return nil
		}
	}
}

// cleanup tears down in reverse dependency order. It is safe on a partly
// built daemon.
func (d *Daemon) cleanup() {
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	if d.server != nil {
		d.server.Stop()
	}
	if d.engine != nil {
		d.engine.Close()
	}
	if d.loader != nil {
		d.loader.Close()
	}
	if d.injector != nil {
		d.injector.Close()
	}
	if c, ok := d.notifier.(io.Closer); ok {
		c.Close()
	}
	if d.vault != nil {
		d.vault.Close()
	}
	if d.lock != nil {
		d.lock.Release()
	}
	if d.logger != nil {
		d.logger.Info("hotcryptd stopped")
		d.logger.Close()
	}
}

// openVault opens the configured credential store behind the platform
// biometric gate.
func openVault(cfg config.VaultConfig, logger *logging.Logger) (*vault.Vault, error) {
	var (
		store vault.EntryStore
		err   error
	)
	switch cfg.Backend {
	case config.VaultBackendTPM:
		sealer, serr := vault.NewTPMSealer(cfg.TPMPath)
		if serr != nil {
			return nil, fmt.Errorf("open tpm: %w", serr)
		}
		store, err = vault.OpenSQLiteStore(cfg.DatabasePath, cfg.Service, sealer)
	default:
		store, err = vault.OpenKeyringStore(vault.KeyringOptions{
			Service:  cfg.Service,
			Backends: cfg.KeyringBackends,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}

	return vault.New(store, vault.NewPlatformGate(),
		vault.WithReason(cfg.BiometricReason),
		vault.WithAllowUngated(cfg.AllowUngated),
		vault.WithLogger(logger.WithComponent("vault")),
	), nil
}

// newLogger maps the file configuration onto the logging package.
func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     logging.ParseFormat(cfg.Format),
		Output:     cfg.Output,
		FilePath:   cfg.FilePath,
		MaxSize:    int64(cfg.MaxSizeMB),
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Component:  "hotcryptd",
	})
}
