// Package app wires the daemon together: config, logging, storage, render
// registry, display, refresh orchestrator, buttons and the debug server.
// All dependencies flow through constructors; nothing here is global.
package app

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"inkframe/internal/buttons"
	"inkframe/internal/config"
	"inkframe/internal/display"
	"inkframe/internal/eventbus"
	"inkframe/internal/observability"
	"inkframe/internal/refresh"
	"inkframe/internal/render"
	"inkframe/internal/storage"
	logx "inkframe/pkg/logx"
)

// Options are the host-supplied pieces the config file cannot provide.
type Options struct {
	ConfigPath string

	// Registry holds the plugin renderers. A nil registry means no plugins;
	// every render will fail with an unknown-plugin error.
	Registry *render.Registry

	// Sink is the panel driver. Nil installs a log-only sink, which is
	// useful on development machines without a panel.
	Sink display.Sink
}

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	metrics *observability.Metrics
	debug   *observability.Server

	refresher *refresh.Service
	btns      *buttons.Manager
	btnSrc    *buttons.PipeSource

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg.Logging))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if cfg.Storage != nil {
		sc, err := mapStorage(cfg.Storage)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		if st != nil {
			store = st
			log.Info("refresh history enabled", logx.String("driver", sc.Driver))
		}
	}

	registry := opts.Registry
	if registry == nil {
		registry = render.NewRegistry()
	}
	renderTimeout, err := config.ParseDurationOrDefault("render_timeout", cfg.RenderTimeout, 2*time.Minute)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	gateway := render.NewGateway(registry, renderTimeout, log.With(logx.String("comp", "render")))

	// Reject edited configs that reference renderers nobody registered;
	// the mistake surfaces at reload time instead of as a failed cycle.
	cfgm.SetValidator(func(ctx context.Context, c *config.Device) error {
		for _, pl := range c.PlaylistConfig.Playlists {
			for _, pi := range pl.Plugins {
				if _, ok := registry.Lookup(pi.PluginID); !ok {
					return fmt.Errorf("playlist %q: unknown plugin %q", pl.Name, pi.PluginID)
				}
			}
		}
		return nil
	})

	var cache refresh.FrameCache
	if dir := cfg.Display.ImageCacheDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("image cache dir: %w", err)
		}
		cache = render.NewFrameCache(dir)
	}

	sink := opts.Sink
	if sink == nil {
		nullLog := log.With(logx.String("comp", "display"))
		sink = display.SinkFunc(func(ctx context.Context, _ image.Image, _ []string) error {
			nullLog.Info("no panel driver configured, dropping frame")
			return nil
		})
	}
	minWrite, err := config.ParseDurationOrDefault("display.min_write_interval", cfg.Display.MinWriteInterval, 0)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	disp := display.NewManager(sink, display.Config{
		MinWriteInterval: minWrite,
		CurrentImagePath: cfg.Display.CurrentImagePath,
		Settings:         cfg.Display.Settings,
	}, log.With(logx.String("comp", "display")))

	sleep, err := config.ParseDurationOrDefault("scheduler_sleep", cfg.SchedulerSleep, 30*time.Second)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	refresher := refresh.New(refresh.Config{SleepInterval: sleep}, refresh.Deps{
		Model:   &cfg.PlaylistConfig,
		Info:    cfg.RefreshInfo,
		Gateway: gateway,
		Sink:    disp,
		Cache:   cache,
		Persist: cfgm,
		History: store,
		Bus:     bus,
		Log:     log.With(logx.String("comp", "refresh")),
	})

	metrics := observability.NewMetrics()
	var debug *observability.Server
	if cfg.Debug != nil && cfg.Debug.Enabled {
		debug = observability.NewServer(observability.Config{
			Enabled:       true,
			Addr:          cfg.Debug.Addr,
			Token:         cfg.Debug.Token,
			AllowInsecure: cfg.Debug.AllowInsecure,
		}, metrics, log.With(logx.String("comp", "debug")))
	}

	a := &App{
		cfgm:      cfgm,
		logs:      logSvc,
		log:       log,
		bus:       bus,
		store:     store,
		metrics:   metrics,
		debug:     debug,
		refresher: refresher,
	}

	if cfg.Buttons != nil {
		a.btns = buttons.NewManager(cfg.Buttons.Actions, log.With(logx.String("comp", "buttons")))
		a.btns.Bind("refresh", a.refreshCurrent)
		a.btns.Bind("advance", a.advance)
		if cfg.Buttons.Pipe != "" {
			a.btnSrc = buttons.NewPipeSource(cfg.Buttons.Pipe, log.With(logx.String("comp", "buttons")))
		}
	}

	return a, nil
}

// Start brings up all services. The app runs until Stop.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.refresher.Start()

	if a.debug != nil {
		if err := a.debug.Start(); err != nil {
			a.log.Warn("debug server failed to start", logx.Err(err))
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.metrics.Run(runCtx, a.bus)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	updates := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	if a.btns != nil && a.btnSrc != nil {
		a.wg.Add(2)
		go func() {
			defer a.wg.Done()
			a.btnSrc.Run(runCtx)
		}()
		go func() {
			defer a.wg.Done()
			a.btns.Run(runCtx, a.btnSrc)
		}()
	}

	// First boot: nothing committed yet, so put a frame up immediately
	// instead of sleeping out a full interval.
	if info := a.refresher.RefreshInfo(); info.RefreshTime == nil {
		a.log.Info("no previous refresh recorded, requesting immediate cycle")
		a.refresher.SignalConfigChanged()
	}

	a.log.Info("app started")
	return nil
}

// Stop shuts everything down, bounded by ctx.
func (a *App) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.debug != nil {
		a.debug.Stop(ctx)
	}
	if err := a.refresher.Stop(ctx); err != nil {
		a.log.Warn("refresh task did not stop cleanly", logx.Err(err))
	}
	a.wg.Wait()
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("app stopped")
	_ = a.logs.Close()
}

// applyConfig adopts an externally edited config file at runtime.
func (a *App) applyConfig(cfg *config.Device) {
	a.logs.Apply(mapLogging(cfg.Logging))

	sleep, err := config.ParseDurationOrDefault("scheduler_sleep", cfg.SchedulerSleep, 30*time.Second)
	if err != nil {
		a.log.Warn("config reload: bad scheduler_sleep, keeping previous", logx.Err(err))
	} else {
		a.refresher.Apply(refresh.Config{SleepInterval: sleep})
	}

	a.refresher.ReplaceModel(&cfg.PlaylistConfig, cfg.RefreshInfo)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigPublished})
	a.log.Info("config reloaded")
}

// refreshCurrent force-refreshes whatever playlist instance is on screen.
func (a *App) refreshCurrent(ctx context.Context) error {
	info := a.refresher.RefreshInfo()
	if info.PlaylistName == "" || info.PluginID == "" {
		a.log.Debug("refresh button pressed with nothing on screen")
		return nil
	}
	return a.refresher.PlaylistRefresh(ctx, info.PlaylistName, info.PluginID, info.Instance, true, true)
}

// advance wakes the worker so the rotation moves to the next instance.
func (a *App) advance(ctx context.Context) error {
	a.refresher.SignalConfigChanged()
	return nil
}

func mapLogging(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
	}
}

func mapStorage(sc *config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
	}, nil
}
