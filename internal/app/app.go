// Package app wires the bell engine together: storage, the minute tick, the
// dispatcher, the relay, and the HTTP/websocket surface, all driven by one
// hot-reloaded config file.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schoolbell/internal/auth"
	"schoolbell/internal/authoring"
	"schoolbell/internal/config"
	"schoolbell/internal/dispatch"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/httpapi"
	"schoolbell/internal/relay"
	rtsup "schoolbell/internal/runtime/supervisor"
	"schoolbell/internal/schedule"
	"schoolbell/internal/storage"
	"schoolbell/internal/tick"
	"schoolbell/internal/transport/ws"
	logx "schoolbell/pkg/logx"
	"schoolbell/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock schedule.Clock

	alarms   *dispatch.AlarmState
	dispatch *dispatch.Dispatcher
	tick     *tick.Service
	relay    *relay.Service
	closers  []func()

	signer *auth.Signer
	ws     *ws.Handler
	http   *httpapi.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a, err := build(cfgm, cfg, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func build(cfgm *config.ConfigManager, cfg *config.Config, logSvc *logx.Service, log logx.Logger) (*App, error) {
	appLog := log.With(logx.String("comp", "app"))

	store, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	clock := schedule.SystemClock{}
	bus := eventbus.New()
	alarms := dispatch.NewAlarmState()
	disp := dispatch.New(bus, alarms, clock, log.With(logx.String("comp", "dispatch")))

	tcfg, err := mapTickConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	tickSvc := tick.New(tcfg, store, disp, clock, log.With(logx.String("comp", "tick")))

	sinks, closers, err := buildSinks(cfg, appLog)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	relaySvc := relay.New(mapRelayConfig(cfg), bus, sinks, log)

	fail := func(err error) (*App, error) {
		for _, c := range closers {
			c()
		}
		_ = store.Close()
		return nil, err
	}

	ttl, err := TokenTTL(cfg)
	if err != nil {
		return fail(err)
	}
	signer, err := auth.NewSigner(cfg.HTTP.JWTSecret, ttl)
	if err != nil {
		return fail(err)
	}
	wscfg, err := mapWSConfig(cfg)
	if err != nil {
		return fail(err)
	}
	wsh := ws.NewHandler(wscfg, disp, signer, log)

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return fail(err)
	}
	router := httpapi.NewRouter(hcfg, httpapi.Deps{
		Store:      store,
		Authoring:  authoring.New(store, clock, log),
		Tick:       tickSvc,
		Dispatcher: disp,
		Relay:      relaySvc,
		WS:         wsh,
		Signer:     signer,
		Clock:      clock,
		Log:        log.With(logx.String("comp", "http")),
	})
	srv := httpapi.NewServer(hcfg, router, log)

	return &App{
		cfgPath:  cfgm.Path(),
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		clock:    clock,
		alarms:   alarms,
		dispatch: disp,
		tick:     tickSvc,
		relay:    relaySvc,
		closers:  closers,
		signer:   signer,
		ws:       wsh,
		http:     srv,
	}, nil
}

// OpenStore opens the configured store. Commands that only touch data use it
// without building the rest of the app.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, errNoStore
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))
	return st, nil
}

func (a *App) Store() storage.Store { return a.store }

func (a *App) Signer() *auth.Signer { return a.signer }

// HTTPAddr is the bound API address, or "" before Start.
func (a *App) HTTPAddr() string { return a.http.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	return a.http.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		// Only reloadable sections must map cleanly; the rest waits for a restart.
		if _, err := mapTickConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.http.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	if a.relay.Enabled() {
		a.relay.Start(a.sup.Context())
	}
	if a.tick.Enabled() {
		a.tick.Start(a.sup.Context())
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return systemd.Watchdog(c, iv, func() bool { return a.http.Err() == nil })
		})
	}
	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.String("http", a.http.Addr()),
		logx.Bool("scheduler", a.tick.Enabled()),
		logx.Bool("relay", a.relay.Enabled()),
	)
	return nil
}

// applyConfig brings running services in line with newCfg. Storage and http
// changes are logged and wait for a restart; so do relay sink changes.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if config.RestartSections[s] {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if tcfg, err := mapTickConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.tick.Enabled()
		a.tick.Apply(tcfg)
		switch {
		case wasEnabled && !tcfg.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.tick.Stop(stopCtx)
			cancel()
		case !wasEnabled && tcfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.tick.Start(c)
		}
	}

	if relaySinksChanged(oldCfg, newCfg) {
		a.log.Warn("relay sinks changed; restart required for changes to take effect")
	}
	wasRelay := a.relay.Enabled()
	a.relay.Apply(mapRelayConfig(newCfg))
	switch nowRelay := a.relay.Enabled(); {
	case wasRelay && !nowRelay:
		a.log.Info("relay disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.relay.Stop(stopCtx)
		cancel()
	case !wasRelay && nowRelay:
		a.log.Info("relay enabled via config")
		a.relay.Start(c)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func relaySinksChanged(oldCfg, newCfg *config.Config) bool {
	var o, n config.RelayConfig
	if oldCfg.Relay != nil {
		o = *oldCfg.Relay
	}
	if newCfg.Relay != nil {
		n = *newCfg.Relay
	}
	return o.Redis != n.Redis || o.MQTT != n.MQTT || !sameTelegram(o.Telegram, n.Telegram)
}

func sameTelegram(a, b config.TelegramConfig) bool {
	if a.Enabled != b.Enabled || a.Token != b.Token || a.Rings != b.Rings || len(a.Chats) != len(b.Chats) {
		return false
	}
	for k, v := range a.Chats {
		if w, ok := b.Chats[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, log when it eventually returns.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Inbound first so nothing new arrives while the engine winds down.
	step("http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("ws", 1*time.Second, func(c context.Context) error { a.ws.Close(c); return nil })
	step("tick", 2*time.Second, func(c context.Context) error { a.tick.Stop(c); return nil })
	step("relay", 2*time.Second, func(c context.Context) error {
		a.relay.Stop(c)
		for _, fn := range a.closers {
			fn()
		}
		return nil
	})
	// Alarm state is process memory; a restart starts with no alarms.
	step("alarms", 0, func(context.Context) error { a.alarms.Clear(); return nil })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, watchdog).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
