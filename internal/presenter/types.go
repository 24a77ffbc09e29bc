package presenter

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSuppressed = errors.New("notification suppressed")
	ErrQueueFull  = errors.New("presenter queue full")
	ErrStopped    = errors.New("presenter stopped")
)

// FirstID is the identifier given to the first notification of an Adapter.
const FirstID = 100

// Notification is what a Sink shows. Click is never empty once it leaves the
// Adapter: it falls back to the configured default view.
type Notification struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Click string `json:"click,omitempty"`
}

// Sink presents notifications to the user.
type Sink interface {
	Name() string
	Show(ctx context.Context, n Notification) error
}

// Flags reports notification control flags by name.
type Flags interface {
	Flag(name string) bool
}

// Config controls the delivery queue.
type Config struct {
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration

	// Gated drops notifications while the "messages" flag is off.
	Gated bool
	// DefaultClick is used when a message has no click target.
	DefaultClick string
}

// Event is the payload of presenter.* bus events.
type Event struct {
	ID    int       `json:"id"`
	Title string    `json:"title"`
	Sink  string    `json:"sink,omitempty"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
