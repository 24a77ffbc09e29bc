package config

import (
	"reflect"
	"sort"
	"strings"

	logx "jtechpush/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) whether the live subscription must be re-established.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Subscription. Server/topic/variant force a reconnect; delays apply on the next cycle.
	o, n := oldCfg.Subscription, newCfg.Subscription
	resubscribe := strings.TrimSpace(o.Server) != strings.TrimSpace(n.Server) ||
		strings.TrimSpace(o.Topic) != strings.TrimSpace(n.Topic) ||
		strings.TrimSpace(o.Variant) != strings.TrimSpace(n.Variant) ||
		strings.TrimSpace(o.ConnectTimeout) != strings.TrimSpace(n.ConnectTimeout)
	if resubscribe || !reflect.DeepEqual(o, n) {
		changed = append(changed, "subscription")
		attrs = append(attrs,
			logx.String("subscription.server", strings.TrimSpace(n.Server)),
			logx.Bool("subscription.topic_set", strings.TrimSpace(n.Topic) != ""),
			logx.String("subscription.variant", strings.TrimSpace(n.Variant)),
			logx.Bool("subscription.resubscribe", resubscribe),
		)
	}

	// Notification flags
	if oldCfg.Notifications.Enabled(FlagMessages) != newCfg.Notifications.Enabled(FlagMessages) ||
		oldCfg.Notifications.Enabled(FlagService) != newCfg.Notifications.Enabled(FlagService) {
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.Bool("notifications.messages", newCfg.Notifications.Enabled(FlagMessages)),
			logx.Bool("notifications.service", newCfg.Notifications.Enabled(FlagService)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Presenter, newCfg.Presenter) {
		changed = append(changed, "presenter")
		attrs = append(attrs,
			logx.Int("presenter.queue_size", newCfg.Presenter.QueueSize),
			logx.Int("presenter.rate_per_sec", newCfg.Presenter.RatePerSec),
			logx.Int("presenter.retry_max", newCfg.Presenter.RetryMax),
			logx.String("presenter.sinks", strings.Join(newCfg.Presenter.Sinks, ",")),
		)
	}

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID || ot.Commands != nt.Commands ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int64("telegram.chat_id", nt.ChatID),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.commands", nt.Commands),
		)
	}

	if oldCfg.Desktop != newCfg.Desktop {
		changed = append(changed, "desktop")
		attrs = append(attrs, logx.String("desktop.opener", strings.TrimSpace(newCfg.Desktop.Opener)))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage: nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.history_retention", strings.TrimSpace(nS.HistoryRetention)),
		)
	}

	if oldCfg.Lifecycle != newCfg.Lifecycle {
		changed = append(changed, "lifecycle")
		attrs = append(attrs, logx.Bool("lifecycle.systemd", newCfg.Lifecycle.Systemd))
	}

	// Debug (never log token)
	if oldCfg.Debug.Enabled != newCfg.Debug.Enabled ||
		strings.TrimSpace(oldCfg.Debug.Addr) != strings.TrimSpace(newCfg.Debug.Addr) ||
		strings.TrimSpace(oldCfg.Debug.Token) != strings.TrimSpace(newCfg.Debug.Token) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs, resubscribe
}
