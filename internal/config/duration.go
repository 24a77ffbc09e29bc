package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

const (
	DefaultReconnectDelay     = 5 * time.Second
	DefaultNotConfiguredDelay = 10 * time.Second
	DefaultConnectTimeout     = 30 * time.Second
)

// Timings are the resolved subscription durations.
type Timings struct {
	ReconnectDelay     time.Duration
	NotConfiguredDelay time.Duration
	ConnectTimeout     time.Duration
}

// Timings resolves the subscription durations, applying defaults for omitted values.
func (s SubscriptionConfig) Timings() (Timings, error) {
	var (
		t   Timings
		err error
	)
	if t.ReconnectDelay, err = ParseDurationOrDefault("subscription.reconnect_delay", s.ReconnectDelay, DefaultReconnectDelay); err != nil {
		return Timings{}, err
	}
	if t.NotConfiguredDelay, err = ParseDurationOrDefault("subscription.not_configured_delay", s.NotConfiguredDelay, DefaultNotConfiguredDelay); err != nil {
		return Timings{}, err
	}
	if t.ConnectTimeout, err = ParseDurationOrDefault("subscription.connect_timeout", s.ConnectTimeout, DefaultConnectTimeout); err != nil {
		return Timings{}, err
	}
	return t, nil
}
