// Package lifecycle ties the daemon to its service manager: readiness,
// watchdog keep-alives, the human readable status line, and unit inspection.
//
// Everything is a no-op when the process was not started by systemd.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"jtechpush/internal/eventbus"
	"jtechpush/internal/relay"
	rtsup "jtechpush/internal/runtime/supervisor"
	logx "jtechpush/pkg/logx"
)

// Config controls the systemd integration.
type Config struct {
	Enabled bool
	// WatchdogInterval overrides the interval derived from WATCHDOG_USEC.
	WatchdogInterval time.Duration
}

type notifyFunc func(unsetEnv bool, state string) (bool, error)

// Manager implements the process keep-alive for the daemon.
type Manager struct {
	cfg    Config
	log    logx.Logger
	notify notifyFunc
	// showStatus reports whether connection state goes to the status line.
	showStatus func() bool

	mu     sync.Mutex
	sup    *rtsup.Supervisor
	status string
}

func New(cfg Config, log logx.Logger, showStatus func() bool) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if showStatus == nil {
		showStatus = func() bool { return true }
	}
	return &Manager{cfg: cfg, log: log, notify: daemon.SdNotify, showStatus: showStatus}
}

func (m *Manager) send(state string) {
	if !m.cfg.Enabled {
		return
	}
	sent, err := m.notify(false, state)
	if err != nil {
		m.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if !sent {
		m.log.Trace("sd_notify skipped (no NOTIFY_SOCKET)", logx.String("state", state))
	}
}

// KeepAlive reports readiness, starts the watchdog pinger and mirrors
// subscription events from bus onto the status line.
func (m *Manager) KeepAlive(ctx context.Context, bus eventbus.Bus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sup != nil {
		return
	}
	m.sup = rtsup.New(ctx, rtsup.WithLogger(m.log))
	m.send(daemon.SdNotifyReady)

	if iv := m.watchdogInterval(); iv > 0 {
		m.sup.Go0("watchdog", func(c context.Context) { m.watchdogLoop(c, iv) })
	}
	if bus != nil {
		events, unsub := bus.Subscribe(16)
		m.sup.Go0("status", func(c context.Context) {
			defer unsub()
			m.statusLoop(c, events)
		})
	}
}

// Release tells the service manager we are stopping and ends the background loops.
func (m *Manager) Release(ctx context.Context) {
	m.mu.Lock()
	sup := m.sup
	m.sup = nil
	m.mu.Unlock()
	if sup == nil {
		return
	}
	_ = sup.Stop(ctx)
	m.send(daemon.SdNotifyStopping)
}

// Reloading brackets a configuration reload for the service manager.
func (m *Manager) Reloading(done bool) {
	if done {
		m.send(daemon.SdNotifyReady)
		return
	}
	m.send(daemon.SdNotifyReloading)
}

// SetStatus publishes a free-form status line.
func (m *Manager) SetStatus(text string) {
	m.mu.Lock()
	if m.status == text {
		m.mu.Unlock()
		return
	}
	m.status = text
	m.mu.Unlock()
	m.send("STATUS=" + text)
}

func (m *Manager) watchdogInterval() time.Duration {
	if m.cfg.WatchdogInterval > 0 {
		return m.cfg.WatchdogInterval
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	// Ping at half the deadline.
	return d / 2
}

func (m *Manager) watchdogLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.send(daemon.SdNotifyWatchdog)
		}
	}
}

func (m *Manager) statusLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			text, ok := StatusText(ev)
			if !ok {
				continue
			}
			if !m.showStatus() {
				text = "Running"
			}
			m.SetStatus(text)
		}
	}
}

// StatusText maps a subscription event to a status line.
func StatusText(ev eventbus.Event) (string, bool) {
	switch ev.Type {
	case eventbus.TypeSessionConnecting:
		if sub, ok := ev.Data.(relay.Subscription); ok {
			return fmt.Sprintf("Connecting to %s/%s", sub.Server, sub.Topic), true
		}
		return "Connecting", true
	case eventbus.TypeSessionStreaming:
		return "Listening for notifications", true
	case eventbus.TypeSessionEnded:
		return "Reconnecting", true
	case eventbus.TypeNotConfigured:
		return "Not configured", true
	default:
		return "", false
	}
}
