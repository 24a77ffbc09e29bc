package presenter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	logx "jtechpush/pkg/logx"
)

const (
	fdoDest      = "org.freedesktop.Notifications"
	fdoPath      = dbus.ObjectPath("/org/freedesktop/Notifications")
	fdoIface     = "org.freedesktop.Notifications"
	fdoNotify    = fdoIface + ".Notify"
	sigAction    = fdoIface + ".ActionInvoked"
	sigClosed    = fdoIface + ".NotificationClosed"
	actionOpen   = "default"
	maxTrackedID = 256
)

// DesktopConfig configures DesktopSink.
type DesktopConfig struct {
	AppName string
	// Opener is run with the click URL as its only argument when the user
	// activates a notification.
	Opener  string
	Timeout time.Duration
}

type notifyCaller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DesktopSink shows notifications through the freedesktop notification
// service on the session bus. Activating a notification opens its click URL.
type DesktopSink struct {
	cfg  DesktopConfig
	log  logx.Logger
	obj  notifyCaller
	conn *dbus.Conn
	open func(url string) error

	mu     sync.Mutex
	clicks map[uint32]string
	order  []uint32

	signals chan *dbus.Signal
	done    chan struct{}
	once    sync.Once
}

// NewDesktopSink connects to the session bus and starts listening for
// notification actions. Call Close to release the connection.
func NewDesktopSink(cfg DesktopConfig, log logx.Logger) (*DesktopSink, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("desktop: session bus: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(fdoPath),
		dbus.WithMatchInterface(fdoIface),
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("desktop: match signals: %w", err)
	}

	s := newDesktopSink(cfg, log, conn.Object(fdoDest, fdoPath))
	s.conn = conn
	s.signals = make(chan *dbus.Signal, 16)
	conn.Signal(s.signals)
	go s.signalLoop()
	return s, nil
}

func newDesktopSink(cfg DesktopConfig, log logx.Logger, obj notifyCaller) *DesktopSink {
	if strings.TrimSpace(cfg.AppName) == "" {
		cfg.AppName = "jtechpush"
	}
	if strings.TrimSpace(cfg.Opener) == "" {
		cfg.Opener = "xdg-open"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &DesktopSink{
		cfg:    cfg,
		log:    log,
		obj:    obj,
		clicks: map[uint32]string{},
		done:   make(chan struct{}),
	}
	s.open = s.runOpener
	return s
}

func (s *DesktopSink) Name() string { return "desktop" }

func (s *DesktopSink) Show(ctx context.Context, n Notification) error {
	var actions []string
	if n.Click != "" {
		actions = []string{actionOpen, "Open"}
	}
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(1)),
	}
	expire := int32(-1)
	if s.cfg.Timeout > 0 {
		expire = int32(s.cfg.Timeout.Milliseconds())
	}

	call := s.obj.CallWithContext(ctx, fdoNotify, 0,
		s.cfg.AppName, uint32(0), "mail-unread", n.Title, n.Body, actions, hints, expire)
	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("desktop notify: %w", err)
	}
	if n.Click != "" {
		s.track(id, n.Click)
	}
	return nil
}

func (s *DesktopSink) track(id uint32, click string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clicks[id]; !ok {
		s.order = append(s.order, id)
	}
	s.clicks[id] = click
	// Servers don't always report closes; keep the table bounded.
	for len(s.order) > maxTrackedID {
		delete(s.clicks, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *DesktopSink) forget(id uint32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url, ok := s.clicks[id]
	if ok {
		delete(s.clicks, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return url, ok
}

func (s *DesktopSink) signalLoop() {
	for {
		select {
		case <-s.done:
			return
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			s.handleSignal(sig)
		}
	}
}

func (s *DesktopSink) handleSignal(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) == 0 {
		return
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}
	switch sig.Name {
	case sigAction:
		if len(sig.Body) < 2 {
			return
		}
		if key, _ := sig.Body[1].(string); key != actionOpen {
			return
		}
		url, ok := s.forget(id)
		if !ok {
			return
		}
		if err := s.open(url); err != nil {
			s.log.Warn("open click target failed", logx.String("url", url), logx.Err(err))
		}
	case sigClosed:
		s.forget(id)
	}
}

func (s *DesktopSink) runOpener(url string) error {
	cmd := exec.Command(s.cfg.Opener, url)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Close stops the signal loop and closes the bus connection.
func (s *DesktopSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.RemoveSignal(s.signals)
			err = s.conn.Close()
		}
	})
	return err
}
