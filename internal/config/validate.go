package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"jtechpush/internal/relay"
)

// scheduleParser matches the parser used by the maintenance scheduler.
var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the parts of cfg that would otherwise only fail at use time.
// An unset subscription is valid: the daemon idles until one is registered.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	s := cfg.Subscription
	v, err := relay.LookupVariant(s.Variant)
	if err != nil {
		return fmt.Errorf("subscription.variant: %w", err)
	}
	sub := relay.Subscription{Server: strings.TrimSpace(s.Server), Topic: strings.TrimSpace(s.Topic)}
	if sub.Topic != "" {
		if _, err := v.URL(sub); err != nil && !errors.Is(err, relay.ErrNotConfigured) {
			return fmt.Errorf("subscription: %w", err)
		}
	}
	for path, raw := range map[string]string{
		"subscription.reconnect_delay":      s.ReconnectDelay,
		"subscription.not_configured_delay": s.NotConfiguredDelay,
		"subscription.connect_timeout":      s.ConnectTimeout,
		"presenter.retry_base":              cfg.Presenter.RetryBase,
		"telegram.poll_timeout":             cfg.Telegram.PollTimeout,
		"desktop.timeout":                   cfg.Desktop.Timeout,
		"lifecycle.watchdog_interval":       cfg.Lifecycle.WatchdogInterval,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	for _, name := range cfg.Presenter.Sinks {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "log", "desktop":
		case "telegram":
			if strings.TrimSpace(cfg.Telegram.Token) == "" || cfg.Telegram.ChatID == 0 {
				return fmt.Errorf("presenter.sinks: telegram requires telegram.token and telegram.chat_id")
			}
		default:
			return fmt.Errorf("presenter.sinks: unknown sink %q", name)
		}
	}
	if cfg.Presenter.QueueSize < 0 || cfg.Presenter.RatePerSec < 0 || cfg.Presenter.RetryMax < 0 {
		return fmt.Errorf("presenter: queue_size, rate_per_sec and retry_max must be >= 0")
	}

	if st := cfg.Storage; st != nil {
		if _, err := ParseDurationField("storage.history_retention", st.HistoryRetention); err != nil {
			return err
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			return err
		}
		if spec := strings.TrimSpace(st.PruneSchedule); spec != "" {
			if _, err := scheduleParser.Parse(spec); err != nil {
				return fmt.Errorf("storage.prune_schedule: %w", err)
			}
		}
	}
	return nil
}
