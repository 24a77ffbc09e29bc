package config

type Config struct {
	Subscription  SubscriptionConfig  `json:"subscription"`
	Notifications NotificationsConfig `json:"notifications"`
	Presenter     PresenterConfig     `json:"presenter"`
	Telegram      TelegramConfig      `json:"telegram"`
	Desktop       DesktopConfig       `json:"desktop"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Lifecycle     LifecycleConfig     `json:"lifecycle"`
	Debug         DebugConfig         `json:"debug"`
}

// SubscriptionConfig is the relay subscription.
//
// Server and Topic are re-read on every connection attempt, so
// editing them takes effect on the next reconnect (the daemon also forces one
// on reload).
//
// Durations are Go duration strings. Defaults:
//   - reconnect_delay: "5s"
//   - not_configured_delay: "10s"
//   - connect_timeout: "30s"
type SubscriptionConfig struct {
	Server  string `json:"server"`
	Topic   string `json:"topic"`
	Variant string `json:"variant,omitempty"` // "ntfy" (default) or "push"

	ReconnectDelay     string `json:"reconnect_delay,omitempty"`
	NotConfiguredDelay string `json:"not_configured_delay,omitempty"`
	ConnectTimeout     string `json:"connect_timeout,omitempty"`

	// DefaultClickURL is opened when a message carries no click target.
	DefaultClickURL string `json:"default_click_url,omitempty"`
}

// NotificationsConfig holds the notification control flags.
//
// Pointers distinguish "omitted" (enabled) from an explicit false.
type NotificationsConfig struct {
	Messages *bool `json:"messages,omitempty"`
	Service  *bool `json:"service,omitempty"`
}

// PresenterConfig controls the delivery queue in front of the sinks.
//
// Defaults:
//   - queue_size: 64
//   - rate_per_sec: 5
//   - retry_max: 3
//   - retry_base: "500ms"
//   - sinks: ["log"]
type PresenterConfig struct {
	QueueSize  int      `json:"queue_size,omitempty"`
	RatePerSec int      `json:"rate_per_sec,omitempty"`
	RetryMax   int      `json:"retry_max,omitempty"`
	RetryBase  string   `json:"retry_base,omitempty"`
	Sinks      []string `json:"sinks,omitempty"` // log | telegram | desktop
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	ChatID       int64   `json:"chat_id"`
	ThreadID     int     `json:"thread_id,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Commands enables /messages, /service and /status from owners.
	Commands bool `json:"commands,omitempty"`
}

type DesktopConfig struct {
	AppName string `json:"app_name,omitempty"` // default: "jtechpush"
	Opener  string `json:"opener,omitempty"`   // default: "xdg-open"
	Timeout string `json:"timeout,omitempty"`  // expire timeout; "0s" keeps the server default
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./jtechpush.db", "history_retention": "168h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	HistoryRetention string `json:"history_retention,omitempty"` // default: "168h"
	PruneSchedule    string `json:"prune_schedule,omitempty"`    // cron spec, default: "@hourly"
}

// LifecycleConfig controls the systemd integration. It is a no-op when the
// process was not started by systemd.
type LifecycleConfig struct {
	Systemd bool `json:"systemd"`
	// WatchdogInterval overrides the interval derived from WATCHDOG_USEC.
	WatchdogInterval string `json:"watchdog_interval,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (pprof + /status).
//
// Prefer binding to localhost (e.g. "127.0.0.1:6061").
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
}

// Flag names understood by Flag/SetFlag.
const (
	FlagMessages = "messages"
	FlagService  = "service"
)

// Enabled reports the value of a control flag. Unknown flags are disabled;
// omitted known flags are enabled.
func (n NotificationsConfig) Enabled(name string) bool {
	var p *bool
	switch name {
	case FlagMessages:
		p = n.Messages
	case FlagService:
		p = n.Service
	default:
		return false
	}
	return p == nil || *p
}
