// Package app wires the relay components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/broadcast"
	"relaybot/internal/commands"
	"relaybot/internal/config"
	"relaybot/internal/dedup"
	"relaybot/internal/digest"
	"relaybot/internal/eventbus"
	"relaybot/internal/httpserver"
	"relaybot/internal/metrics"
	"relaybot/internal/relay"
	"relaybot/internal/reply"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/session"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	"relaybot/internal/transport/telegram/adapter"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	dedup dedup.Deduper

	adapter   *adapter.Adapter
	broadcast *broadcast.Engine
	cmdm      *router.Manager

	metrics *metrics.Collector
	http    *httpserver.Service
	digest  *digest.Service

	updates chan kit.Update
}

// NewApp loads the config at cfgPath and builds every component. Nothing
// runs until Start.
func NewApp(cfgPath, version string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	started := time.Now()

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := adapter.New(adCfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg, started, version); err != nil {
		a.closeStores()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, started time.Time, version string) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	dc, err := mapDedupConfig(cfg)
	if err != nil {
		return err
	}
	a.dedup, err = dedup.Open(dc)
	if err != nil {
		return err
	}

	loc, err := config.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	policy, err := mapPolicy(cfg)
	if err != nil {
		return err
	}

	operatorID := cfg.Telegram.OperatorID
	ops := session.New()
	rl := relay.New(relay.Options{
		Store: a.store, Adapter: a.adapter, Session: ops, OperatorID: operatorID, Bus: a.bus, Log: a.log,
	})
	rp := reply.New(reply.Options{
		Store: a.store, Adapter: a.adapter, Session: ops, OperatorID: operatorID, Bus: a.bus, Log: a.log,
	})
	a.broadcast = broadcast.New(broadcast.Options{
		Store: a.store, Adapter: a.adapter, Session: ops, OperatorID: operatorID, Bus: a.bus, Log: a.log,
		Policy:  policy,
		Spawner: appSpawner{a},
	})

	set := commands.New(commands.Deps{
		Store:     a.store,
		Relay:     rl,
		Reply:     rp,
		Broadcast: a.broadcast,
		Log:       a.log,
		Started:   started,
		Location:  loc,
	})
	rc, err := mapRouterConfig(cfg)
	if err != nil {
		return err
	}
	a.cmdm = router.NewManager(a.log, a.adapter, a.dedup, rc)
	a.cmdm.SetRegistry(set.Commands(), set.Flows())

	if cfg.HTTP.Metrics {
		a.metrics = metrics.New(a.log)
	}
	hc, enabled, err := mapHTTPConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		deps := httpserver.Deps{
			Store:      a.store,
			Dedup:      a.dedup,
			Webhook:    a.adapter.WebhookHandler(),
			WebhookURL: cfg.Telegram.WebhookURL,
			Sending:    a.broadcast.Sending,
			Runtimes:   a.runtimes,
			Started:    started,
			Version:    version,
		}
		if a.metrics != nil {
			deps.Metrics = a.metrics.Handler()
		}
		a.http = httpserver.New(hc, deps, a.log)
	} else if a.metrics != nil {
		a.log.Warn("http.metrics is set but http.addr is empty; metrics are collected but not served")
	}

	if cfg.Digest.Enabled {
		dg, err := mapDigestConfig(cfg)
		if err != nil {
			return err
		}
		a.digest = digest.New(dg, config.CronParser, a.store, a.adapter, a.log)
	}
	return nil
}

// appSpawner hands broadcast runs to the app supervisor so shutdown waits
// for their final writes.
type appSpawner struct{ a *App }

func (s appSpawner) Go0(name string, fn func(ctx context.Context)) {
	if s.a.sup == nil {
		fn(context.Background())
		return
	}
	s.a.sup.Go0(name, fn)
}

// runtimes collects counters from the supervisors that are running.
func (a *App) runtimes() map[string]supervisor.Counters {
	out := map[string]supervisor.Counters{}
	add := func(name string, s *supervisor.Supervisor) {
		if s != nil {
			out[name] = s.Counters()
		}
	}
	add("app", a.sup)
	add("telegram.adapter", a.adapter.Supervisor())
	add("telegram.router", a.cmdm.Supervisor())
	return out
}

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
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	if a.metrics != nil {
		a.sup.Go0("metrics.collect", func(c context.Context) { a.metrics.Run(c, a.bus) })
	}
	if a.http != nil {
		a.http.Start(a.sup.Context())
	}
	if a.digest != nil {
		if err := a.digest.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("bot", a.adapter.Username()))
	return nil
}

// applyConfig hot-applies logging and broadcast pacing. Everything else is
// read once at startup.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(next))
	if p, err := mapPolicy(next); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.broadcast.SetPolicy(p)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStores()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding. A running broadcast
	// sees the cancellation and records itself as interrupted.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = rem
			}
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 6*time.Second, func(c context.Context) error {
		if a.http == nil {
			return nil
		}
		return a.http.Stop(c)
	})
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("digest", 2*time.Second, func(c context.Context) error {
		if a.digest == nil {
			return nil
		}
		return a.digest.Stop(c)
	})
	// Broadcast runs finish their report under their own timeout; give them
	// room before the stores close.
	step("supervisor", 20*time.Second, a.sup.Wait)
	step("stores", 2*time.Second, func(context.Context) error {
		a.closeStores()
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStores() {
	if a.dedup != nil {
		if err := a.dedup.Close(); err != nil {
			a.log.Warn("dedup close failed", logx.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
}
