package app

import (
	"fmt"
	"strings"
	"time"

	"jtechpush/internal/config"
	"jtechpush/internal/lifecycle"
	"jtechpush/internal/maintenance"
	"jtechpush/internal/observability/debughttp"
	"jtechpush/internal/presenter"
	"jtechpush/internal/relay"
	"jtechpush/internal/storage"
	"jtechpush/internal/transport/telegram"
	logx "jtechpush/pkg/logx"
)

// DefaultClickURL is the forum view opened for notifications without a click target.
const DefaultClickURL = "https://forums.jtechforums.org/dumb"

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// MapStorageConfig returns the storage settings and whether storage is enabled.
func MapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapMaintenance(cfg *config.Config) (maintenance.Config, error) {
	if cfg.Storage == nil {
		return maintenance.Config{}, nil
	}
	ret, err := config.ParseDurationField("storage.history_retention", cfg.Storage.HistoryRetention)
	if err != nil {
		return maintenance.Config{}, err
	}
	return maintenance.Config{Schedule: strings.TrimSpace(cfg.Storage.PruneSchedule), Retention: ret}, nil
}

func mapPresenter(cfg *config.Config, v relay.Variant) (presenter.Config, error) {
	pc := cfg.Presenter
	base, err := config.ParseDurationField("presenter.retry_base", pc.RetryBase)
	if err != nil {
		return presenter.Config{}, err
	}
	click := strings.TrimSpace(cfg.Subscription.DefaultClickURL)
	if click == "" {
		click = DefaultClickURL
	}
	return presenter.Config{
		QueueSize:    pc.QueueSize,
		RatePerSec:   pc.RatePerSec,
		RetryMax:     pc.RetryMax,
		RetryBase:    base,
		Gated:        v.Gated,
		DefaultClick: click,
	}, nil
}

// sinkNames returns the configured sinks, lower-cased and de-duplicated. The
// log sink is used when none are configured.
func sinkNames(cfg *config.Config) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(cfg.Presenter.Sinks))
	for _, s := range cfg.Presenter.Sinks {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		out = append(out, "log")
	}
	return out
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:        strings.TrimSpace(cfg.Telegram.Token),
		ChatID:       cfg.Telegram.ChatID,
		ThreadID:     cfg.Telegram.ThreadID,
		OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
		PollTimeout:  poll,
		Commands:     cfg.Telegram.Commands,
	}, nil
}

func mapDesktop(cfg *config.Config) (presenter.DesktopConfig, error) {
	d, err := config.ParseDurationField("desktop.timeout", cfg.Desktop.Timeout)
	if err != nil {
		return presenter.DesktopConfig{}, err
	}
	return presenter.DesktopConfig{
		AppName: strings.TrimSpace(cfg.Desktop.AppName),
		Opener:  strings.TrimSpace(cfg.Desktop.Opener),
		Timeout: d,
	}, nil
}

func mapLifecycle(cfg *config.Config) (lifecycle.Config, error) {
	iv, err := config.ParseDurationField("lifecycle.watchdog_interval", cfg.Lifecycle.WatchdogInterval)
	if err != nil {
		return lifecycle.Config{}, err
	}
	return lifecycle.Config{Enabled: cfg.Lifecycle.Systemd, WatchdogInterval: iv}, nil
}

func mapDebug(cfg *config.Config) debughttp.Config {
	addr := strings.TrimSpace(cfg.Debug.Addr)
	if addr == "" {
		addr = debughttp.DefaultAddr
	}
	return debughttp.Config{Enabled: cfg.Debug.Enabled, Addr: addr, Token: strings.TrimSpace(cfg.Debug.Token)}
}
