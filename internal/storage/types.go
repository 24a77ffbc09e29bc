package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines history + device id file
//   - "sqlite": SQLite database file (pure Go driver)
//
// Empty or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

// Delivery records one presented notification.
type Delivery struct {
	At       time.Time `json:"at"`
	ID       int       `json:"id"`
	Server   string    `json:"server"`
	Topic    string    `json:"topic"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Click    string    `json:"click,omitempty"`
	Sink     string    `json:"sink"`
	Error    string    `json:"error,omitempty"`
	Attempts int       `json:"attempts"`
}

// Store is the persistence API used by the presenter, maintenance and CLI.
type Store interface {
	AppendDelivery(ctx context.Context, d Delivery) error
	// RecentDeliveries returns up to limit records, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	// PruneDeliveries removes records older than before and reports how many went.
	PruneDeliveries(ctx context.Context, before time.Time) (int, error)
	// DeviceID returns the stable device identifier, creating it on first use.
	DeviceID(ctx context.Context) (string, error)
	Close() error
}
