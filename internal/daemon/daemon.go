// Package daemon assembles the clawgate components and runs them as one
// process: audit store, model manager, classifier, permission handler,
// hook dispatch, HTTP server, maintenance schedules, and notifications.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/stellarlinkco/clawgate/internal/audit"
	"github.com/stellarlinkco/clawgate/internal/bus"
	"github.com/stellarlinkco/clawgate/internal/classify"
	"github.com/stellarlinkco/clawgate/internal/config"
	"github.com/stellarlinkco/clawgate/internal/hooks"
	"github.com/stellarlinkco/clawgate/internal/model"
	"github.com/stellarlinkco/clawgate/internal/notify"
	"github.com/stellarlinkco/clawgate/internal/permission"
	"github.com/stellarlinkco/clawgate/internal/sched"
	"github.com/stellarlinkco/clawgate/internal/server"
)

// Options customizes daemon construction, mainly for tests.
type Options struct {
	Version       string
	RunnerFactory model.RunnerFactory // overrides the model backend
	BotFactory    notify.BotFactory   // overrides the telegram client
	SignalChan    chan os.Signal      // for testing signal handling
}

type Daemon struct {
	cfg      *config.Config
	store    *audit.Store
	bus      *bus.Bus
	manager  *model.Manager
	handler  *permission.Handler
	registry *hooks.Registry
	executor *hooks.Executor
	server   *server.Server
	sched    *sched.Service
	notifier notify.Notifier

	signalChan   chan os.Signal
	watcher      *fsnotify.Watcher
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New creates a Daemon with default options.
func New(cfg *config.Config) (*Daemon, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions wires every component from cfg. A failing audit store
// or telegram notifier degrades with a warning instead of aborting;
// the decision pipeline itself must come up or New fails.
func NewWithOptions(cfg *config.Config, opts Options) (*Daemon, error) {
	d := &Daemon{
		cfg:        cfg,
		bus:        bus.New(),
		sched:      sched.NewService(),
		signalChan: opts.SignalChan,
		shutdownCh: make(chan struct{}),
	}

	dbPath := cfg.Audit.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "decisions.db")
	}
	store, err := audit.NewStore(dbPath)
	if err != nil {
		log.Printf("[daemon] audit store unavailable, decisions will not persist: %v", err)
	} else {
		d.store = store
	}

	var mopts []model.Option
	if opts.RunnerFactory != nil {
		mopts = append(mopts, model.WithRunnerFactory(opts.RunnerFactory))
	}
	d.manager = model.NewManager(&cfg.Model, mopts...)
	classifier := classify.NewClassifier(d.manager)

	d.handler, err = permission.NewHandler(cfg, classifier, d.store, d.bus)
	if err != nil {
		d.closePartial()
		return nil, fmt.Errorf("create permission handler: %w", err)
	}

	d.registry = hooks.NewRegistry()
	if err := hooks.BuildHooks(d.registry, cfg.Hooks.Callbacks); err != nil {
		d.closePartial()
		return nil, fmt.Errorf("register hooks: %w", err)
	}
	d.executor = hooks.NewExecutor(d.registry,
		hooks.WithDefaultTimeout(cfg.HookTimeout()),
		hooks.WithMaxRetries(cfg.Hooks.MaxRetries),
	)

	if cfg.Notify.Telegram.Enabled {
		factory := opts.BotFactory
		var notifier *notify.TelegramNotifier
		if factory == nil {
			notifier, err = notify.NewTelegramNotifier(cfg.Notify.Telegram)
		} else {
			notifier, err = notify.NewTelegramNotifierWithFactory(cfg.Notify.Telegram, factory)
		}
		if err != nil {
			log.Printf("[daemon] telegram notifier unavailable: %v", err)
		} else {
			d.notifier = notifier
		}
	}

	// The classify endpoint reports unavailable while hooks are off at
	// startup; permission requests still go through the handler, which
	// answers SKIPPED on its own.
	var srvClassifier permission.Classifier
	if cfg.Hooks.Enabled {
		srvClassifier = classifier
	}
	d.server = server.New(server.Options{
		Config:     cfg,
		Version:    opts.Version,
		Handler:    d.handler,
		Classifier: srvClassifier,
		Executor:   d.executor,
		Manager:    d.manager,
		Store:      d.store,
		OnShutdown: d.requestShutdown,
	})

	return d, nil
}

// Store exposes the audit store, nil when persistence is degraded.
func (d *Daemon) Store() *audit.Store { return d.store }

// Addr returns the bound listen address once Run has started the server.
func (d *Daemon) Addr() string { return d.server.Addr() }

// Run starts every component and blocks until a shutdown signal, the
// shutdown endpoint, or ctx cancellation. It always tears down in
// order before returning.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Retention pass before the schedule takes over.
	d.cleanupAudit("startup")

	if err := d.registerJobs(); err != nil {
		return err
	}
	d.sched.Start()

	if err := d.server.Start(); err != nil {
		d.sched.Stop()
		return err
	}

	if err := d.watchConfig(); err != nil {
		log.Printf("[daemon] config watch unavailable: %v", err)
	}

	go d.eventLoop(ctx)

	log.Printf("[daemon] running on %s", d.server.Addr())

	sigCh := d.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-d.shutdownCh:
	case <-ctx.Done():
	}

	log.Printf("[daemon] shutting down...")
	return d.Shutdown()
}

func (d *Daemon) registerJobs() error {
	if d.store != nil && d.cfg.Audit.RetentionDays > 0 {
		schedule := d.cfg.Audit.CleanupSchedule
		if schedule == "" {
			schedule = config.DefaultCleanupSchedule
		}
		err := d.sched.Add("audit-cleanup", schedule, func() {
			d.cleanupAudit("scheduled")
		})
		if err != nil {
			return fmt.Errorf("schedule audit cleanup: %w", err)
		}
	}

	if idle := d.cfg.Model.IdleUnload(); idle > 0 {
		err := d.sched.Add("model-idle-sweep", "@every 1m", func() {
			d.manager.UnloadIfIdle(idle)
		})
		if err != nil {
			return fmt.Errorf("schedule model idle sweep: %w", err)
		}
	}
	return nil
}

func (d *Daemon) cleanupAudit(pass string) {
	if d.store == nil || d.cfg.Audit.RetentionDays <= 0 {
		return
	}
	if _, err := d.store.Cleanup(d.cfg.Audit.RetentionDays); err != nil {
		log.Printf("[daemon] %s audit cleanup failed: %v", pass, err)
	}
}

// eventLoop fans decision events out to websocket clients and the
// notifier. Notification failures are logged and dropped.
func (d *Daemon) eventLoop(ctx context.Context) {
	for {
		select {
		case ev := <-d.bus.Decisions:
			d.server.Broadcast(ev)
			if d.notifier != nil {
				if err := d.notifier.Notify(ev); err != nil {
					log.Printf("[daemon] notify failed: %v", err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// watchConfig reloads the permission policy when the config file
// changes on disk. The parent directory is watched so atomic
// write-and-rename saves are seen too.
func (d *Daemon) watchConfig() error {
	path := config.ConfigPath()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}
	d.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				d.reloadConfig()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[daemon] config watcher error: %v", err)
			}
		}
	}()
	return nil
}

// reloadConfig re-reads the config file and applies the fields that are
// safe to change at runtime: hook enablement and the permission policy.
// Server address, model, and audit settings require a restart.
func (d *Daemon) reloadConfig() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("[daemon] config reload failed: %v", err)
		return
	}
	if err := d.handler.ApplyConfig(cfg); err != nil {
		log.Printf("[daemon] config reload rejected: %v", err)
		return
	}
	log.Printf("[daemon] permission policy reloaded")
}

func (d *Daemon) requestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
}

// Shutdown stops components in reverse dependency order: no new
// requests, then schedules, then a final retention pass before the
// store closes.
func (d *Daemon) Shutdown() error {
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	if err := d.server.Stop(); err != nil {
		log.Printf("[daemon] server stop warning: %v", err)
	}
	d.sched.Stop()
	d.cleanupAudit("final")
	d.manager.Unload()
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Printf("[daemon] close audit store warning: %v", err)
		}
	}
	log.Printf("[daemon] shutdown complete")
	return nil
}

// closePartial releases what New built before a later step failed.
func (d *Daemon) closePartial() {
	if d.store != nil {
		_ = d.store.Close()
	}
}
