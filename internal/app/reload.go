package app

import (
	"context"
	"strings"

	"jtechpush/internal/config"
	logx "jtechpush/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, reloads <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-reloads:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-reloads:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes a validated config to the live components. A changed
// server, topic, variant or connect timeout forces the active session to
// reconnect; everything else applies in place.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, resubscribe := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.life.Reloading(false)
	defer a.life.Reloading(true)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogging(newCfg))

	if storageMoved(oldCfg, newCfg) {
		a.log.Warn("storage driver/path changes need a restart to take effect")
	}
	for _, s := range sections {
		if s == "telegram" {
			a.log.Warn("telegram changes need a restart to take effect")
		}
	}

	if err := a.applySubscription(newCfg); err != nil {
		a.log.Warn("invalid subscription config; keeping previous", logx.Err(err))
	} else if t, err := newCfg.Subscription.Timings(); err == nil {
		a.subs.SetDelays(t.ReconnectDelay, t.NotConfiguredDelay)
	}

	if pc, err := mapPresenter(newCfg, a.currentVariant()); err != nil {
		a.log.Warn("invalid presenter config; keeping previous", logx.Err(err))
	} else {
		a.presenter.Apply(pc, a.buildSink(newCfg))
	}

	if mc, err := mapMaintenance(newCfg); err != nil {
		a.log.Warn("invalid storage maintenance config; keeping previous", logx.Err(err))
	} else if err := a.maint.Apply(ctx, mc); err != nil {
		a.log.Warn("maintenance reschedule failed", logx.Err(err))
	}

	a.debug.Reconfigure(ctx, mapDebug(newCfg))

	if resubscribe {
		a.log.Info("subscription changed; reconnecting", logx.String("server", a.subscription().Server))
		a.subs.Reconfigure()
	}
	a.log.Info("config reloaded", fields...)
}

func storageMoved(oldCfg, newCfg *config.Config) bool {
	o, _, _ := MapStorageConfig(oldCfg)
	n, _, _ := MapStorageConfig(newCfg)
	return o.Driver != n.Driver || o.Path != n.Path
}
