package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"jtechpush/internal/config"
	"jtechpush/internal/eventbus"
	"jtechpush/internal/lifecycle"
	"jtechpush/internal/maintenance"
	"jtechpush/internal/observability/debughttp"
	"jtechpush/internal/presenter"
	"jtechpush/internal/relay"
	rtsup "jtechpush/internal/runtime/supervisor"
	"jtechpush/internal/storage"
	"jtechpush/internal/subscription"
	"jtechpush/internal/transport/telegram"
	logx "jtechpush/pkg/logx"
)

// App wires the subscription daemon together.
type App struct {
	cfgm *config.ConfigManager

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	presenter *presenter.Adapter
	subs      *subscription.Supervisor
	life      *lifecycle.Manager
	maint     *maintenance.Service
	debug     *debughttp.Service
	tg        *telegram.Bot
	desktop   *presenter.DesktopSink

	sup *rtsup.Supervisor

	mu             sync.Mutex
	variant        relay.Variant
	connectTimeout time.Duration

	// newDesktop is swapped in tests; the real one needs a session bus.
	newDesktop func(presenter.DesktopConfig, logx.Logger) (*presenter.DesktopSink, error)
}

// New loads and validates the config at cfgPath and builds every component.
// A missing config file is treated as empty: the daemon idles until a
// subscription is registered.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validate)
	cfg, err := cfgm.LoadOrEmpty()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(mapLogging(cfg))
	a := &App{
		cfgm:       cfgm,
		root:       log,
		log:        log.With(logx.Comp("app")),
		logs:       logSvc,
		bus:        eventbus.New(),
		newDesktop: presenter.NewDesktopSink,
	}
	cfgm.SetLogger(log.With(logx.Comp("config")))

	if err := a.build(cfg, log); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	if err := a.applySubscription(cfg); err != nil {
		return err
	}

	sc, enabled, err := MapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.Comp("storage")))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		tc, err := mapTelegram(cfg)
		if err != nil {
			return err
		}
		bot, err := telegram.New(tc, log.With(logx.Comp("telegram")))
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		a.tg = bot
	}

	pc, err := mapPresenter(cfg, a.currentVariant())
	if err != nil {
		return err
	}
	opts := []presenter.Option{
		presenter.WithLogger(log.With(logx.Comp("presenter"))),
		presenter.WithBus(a.bus),
		presenter.WithFlags(a.cfgm),
		presenter.WithOrigin(a.subscription),
	}
	if a.store != nil {
		opts = append(opts, presenter.WithStore(a.store))
	}
	a.presenter = presenter.New(pc, a.buildSink(cfg), opts...)

	t, err := cfg.Subscription.Timings()
	if err != nil {
		return err
	}
	a.subs = subscription.NewSupervisor(
		subscription.SourceFunc(a.subscription),
		a.newSession,
		subscription.WithLogger(log.With(logx.Comp("subscription"))),
		subscription.WithBus(a.bus),
		subscription.WithDelays(t.ReconnectDelay, t.NotConfiguredDelay),
	)

	lc, err := mapLifecycle(cfg)
	if err != nil {
		return err
	}
	a.life = lifecycle.New(lc, log.With(logx.Comp("lifecycle")), func() bool {
		return a.cfgm.Flag(config.FlagService)
	})

	mc, err := mapMaintenance(cfg)
	if err != nil {
		return err
	}
	a.maint = maintenance.New(mc, a.store, log.With(logx.Comp("maintenance")))
	a.debug = debughttp.New(mapDebug(cfg), a.Status, a.store, log.With(logx.Comp("debug")))
	return nil
}

// applySubscription records the variant and connect timeout used by new sessions.
func (a *App) applySubscription(cfg *config.Config) error {
	v, err := relay.LookupVariant(cfg.Subscription.Variant)
	if err != nil {
		return err
	}
	t, err := cfg.Subscription.Timings()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.variant = v
	a.connectTimeout = t.ConnectTimeout
	a.mu.Unlock()
	return nil
}

func (a *App) currentVariant() relay.Variant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.variant
}

// subscription is the live subscription with the variant's default server applied.
func (a *App) subscription() relay.Subscription {
	return a.currentVariant().Resolve(a.cfgm.Subscription())
}

func (a *App) newSession() subscription.Runner {
	a.mu.Lock()
	v, timeout := a.variant, a.connectTimeout
	a.mu.Unlock()
	return subscription.NewSession(v, a.presenter, timeout,
		subscription.WithSessionLogger(a.root.With(logx.Comp("session"))),
		subscription.WithSessionBus(a.bus),
	)
}

// buildSink assembles the configured sinks. Sinks that cannot be built are
// skipped with a warning; the log sink always works.
func (a *App) buildSink(cfg *config.Config) presenter.Sink {
	var sinks presenter.Multi
	for _, name := range sinkNames(cfg) {
		switch name {
		case "log":
			sinks = append(sinks, presenter.LogSink{Log: a.root.With(logx.Comp("notification"))})
		case "telegram":
			if a.tg == nil {
				a.log.Warn("telegram sink requested but telegram is not configured (restart required)")
				continue
			}
			sinks = append(sinks, a.tg.Sink())
		case "desktop":
			if a.desktop == nil {
				dc, err := mapDesktop(cfg)
				if err != nil {
					a.log.Warn("desktop sink disabled", logx.Err(err))
					continue
				}
				ds, err := a.newDesktop(dc, a.root.With(logx.Comp("desktop")))
				if err != nil {
					a.log.Warn("desktop sink unavailable", logx.Err(err))
					continue
				}
				a.desktop = ds
			}
			sinks = append(sinks, a.desktop)
		}
	}
	if len(sinks) == 0 {
		return presenter.LogSink{Log: a.root.With(logx.Comp("notification"))}
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return sinks
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches every component and the config watcher. The subscription
// supervisor starts right away and idles while no topic is configured.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return nil
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.presenter.Start(c)
	if err := a.maint.Start(c); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	a.debug.Start(c)
	if a.tg != nil {
		cfg := a.cfgm.Get()
		a.tg.Start(c, telegram.NewRouter(a, cfg.Telegram.OwnerUserIDs, a.root.With(logx.Comp("commands"))))
	}
	a.life.KeepAlive(c, a.bus)
	a.subs.Start(c)

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

	reloads := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(reloads)
		a.reloadLoop(c, reloads)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sub := a.subscription()
	a.log.Info("app started",
		logx.String("variant", a.currentVariant().Name),
		logx.Bool("configured", sub.Configured()),
		logx.String("server", sub.Server),
	)
	return nil
}

// Status is the daemon status served by the debug endpoint.
type Status struct {
	Variant      string                `json:"variant"`
	Subscription subscription.Snapshot `json:"subscription"`
	Messages     bool                  `json:"messages"`
	Service      bool                  `json:"service"`
	NextID       int                   `json:"next_id"`
	Storage      bool                  `json:"storage"`
}

func (a *App) Status(context.Context) any {
	return Status{
		Variant:      a.currentVariant().Name,
		Subscription: a.subs.Snapshot(),
		Messages:     a.cfgm.Flag(config.FlagMessages),
		Service:      a.cfgm.Flag(config.FlagService),
		NextID:       a.presenter.NextID(),
		Storage:      a.store != nil,
	}
}

// Flag implements telegram.Control.
func (a *App) Flag(name string) bool { return a.cfgm.Flag(name) }

// SetFlag implements telegram.Control. The change is written to the config
// file and reaches the components through the reload fan-out.
func (a *App) SetFlag(ctx context.Context, name string, enabled bool) error {
	return a.cfgm.SetFlag(ctx, name, enabled)
}

// StatusText implements telegram.Control.
func (a *App) StatusText(context.Context) string {
	snap := a.subs.Snapshot()
	var b strings.Builder
	switch {
	case snap.NotConfigured || !snap.Subscription.Configured():
		b.WriteString("Not registered")
	default:
		fmt.Fprintf(&b, "Topic %s on %s", snap.Subscription.Topic, snap.Subscription.Server)
	}
	fmt.Fprintf(&b, "\nState: %s", snap.State)
	if snap.LastReason != "" {
		fmt.Fprintf(&b, " (last end: %s)", snap.LastReason)
	}
	fmt.Fprintf(&b, "\nMessages: %s, service: %s", onOff(a.Flag(config.FlagMessages)), onOff(a.Flag(config.FlagService)))
	fmt.Fprintf(&b, "\nPresented: %d", snap.Presented)
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
