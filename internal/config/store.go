package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jtechpush/internal/relay"
	logx "jtechpush/pkg/logx"
)

// Subscription returns the current relay subscription. It is safe to call on
// every connection attempt.
func (m *ConfigManager) Subscription() relay.Subscription {
	cfg := m.Get()
	if cfg == nil {
		return relay.Subscription{}
	}
	return relay.Subscription{
		Server: strings.TrimSpace(cfg.Subscription.Server),
		Topic:  strings.TrimSpace(cfg.Subscription.Topic),
	}
}

// SetSubscription persists a new server/topic. An empty topic unregisters.
func (m *ConfigManager) SetSubscription(ctx context.Context, sub relay.Subscription) error {
	return m.Update(ctx, func(cfg *Config) error {
		cfg.Subscription.Server = strings.TrimSpace(sub.Server)
		cfg.Subscription.Topic = strings.TrimSpace(sub.Topic)
		return nil
	})
}

// Flag reports a notification control flag ("messages" or "service").
func (m *ConfigManager) Flag(name string) bool {
	cfg := m.Get()
	if cfg == nil {
		return NotificationsConfig{}.Enabled(name)
	}
	return cfg.Notifications.Enabled(name)
}

// SetFlag persists a notification control flag.
func (m *ConfigManager) SetFlag(ctx context.Context, name string, enabled bool) error {
	return m.Update(ctx, func(cfg *Config) error {
		v := enabled
		switch name {
		case FlagMessages:
			cfg.Notifications.Messages = &v
		case FlagService:
			cfg.Notifications.Service = &v
		default:
			return fmt.Errorf("unknown notification flag %q", name)
		}
		return nil
	})
}

// Update applies fn to a fresh copy of the on-disk config and writes it back
// atomically (tmp file + rename) in the file's own format. A missing file
// starts from an empty config.
//
// The result is committed and published directly; the watcher sees the same
// content afterwards and skips it.
//
// YAML comments are not preserved.
func (m *ConfigManager) Update(ctx context.Context, fn func(cfg *Config) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cfg, err := m.Parse()
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = &Config{}, nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := m.validate(ctx, cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	b, err := encode(m.path, cfg)
	if err != nil {
		return err
	}
	if err := writeAtomic(m.path, b); err != nil {
		return err
	}

	m.Commit(cfg)
	m.publish(cfg)
	if !m.log.IsZero() {
		m.log.Debug("config written", logx.String("path", m.path))
	}
	return nil
}

func encode(path string, cfg *Config) ([]byte, error) {
	jb, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return formatOf(path).fromJSON(jb)
}

func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	mode := os.FileMode(0o600)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
