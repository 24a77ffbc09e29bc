package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"jtechpush/internal/eventbus"
	"jtechpush/internal/presenter"
	"jtechpush/internal/relay"
	"jtechpush/internal/sse"
	logx "jtechpush/pkg/logx"
)

// Reason says why a session ended.
type Reason int

const (
	ConnectFailed Reason = iota + 1
	StreamError
	StreamClosed
	Cancelled
)

func (r Reason) String() string {
	switch r {
	case ConnectFailed:
		return "connect_failed"
	case StreamError:
		return "stream_error"
	case StreamClosed:
		return "stream_closed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Termination describes how a session ended.
type Termination struct {
	Reason    Reason        `json:"-"`
	Err       error         `json:"-"`
	Frames    int           `json:"frames"`
	Presented int           `json:"presented"`
	Duration  time.Duration `json:"duration"`
}

func (t Termination) String() string {
	if t.Err != nil {
		return fmt.Sprintf("%s: %v", t.Reason, t.Err)
	}
	return t.Reason.String()
}

// Presenter receives accepted messages in wire order.
type Presenter interface {
	Present(ctx context.Context, msg relay.Message) error
}

// Session streams one subscription. A Session may be reused; runs must not overlap.
type Session struct {
	variant   relay.Variant
	client    *http.Client
	presenter Presenter
	log       logx.Logger
	bus       eventbus.Bus
	userAgent string
}

type SessionOption func(*Session)

func WithSessionLogger(log logx.Logger) SessionOption { return func(s *Session) { s.log = log } }
func WithSessionBus(bus eventbus.Bus) SessionOption   { return func(s *Session) { s.bus = bus } }

// WithHTTPClient replaces the default client. It must not set a total Timeout.
func WithHTTPClient(c *http.Client) SessionOption { return func(s *Session) { s.client = c } }

func NewSession(v relay.Variant, p Presenter, connectTimeout time.Duration, opts ...SessionOption) *Session {
	s := &Session{
		variant:   v,
		presenter: p,
		client:    NewHTTPClient(connectTimeout),
		bus:       eventbus.Nop(),
		userAgent: "jtechpush",
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// NewHTTPClient bounds dialing, TLS and the wait for response headers, but
// not the body: an idle stream may stay open indefinitely.
func NewHTTPClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = connectTimeout
	tr.ResponseHeaderTimeout = connectTimeout
	return &http.Client{Transport: tr}
}

// Run connects and streams until the server closes the stream, an error
// occurs, or ctx is cancelled. The response body is closed before Run returns.
func (s *Session) Run(ctx context.Context, sub relay.Subscription) (term Termination) {
	started := time.Now()
	defer func() { term.Duration = time.Since(started) }()

	sub = s.variant.Resolve(sub)
	url, err := s.variant.URL(sub)
	if err != nil {
		return Termination{Reason: ConnectFailed, Err: err}
	}
	log := s.log.With(logx.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Termination{Reason: ConnectFailed, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", s.userAgent)

	s.publish(eventbus.TypeSessionConnecting, sub)
	log.Debug("connecting")
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Termination{Reason: Cancelled}
		}
		return Termination{Reason: ConnectFailed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Termination{Reason: ConnectFailed, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	MarkStreaming(ctx)
	s.publish(eventbus.TypeSessionStreaming, sub)
	log.Info("subscribed")

	r := sse.NewReader(resp.Body)
	for {
		if ctx.Err() != nil {
			term.Reason = Cancelled
			return term
		}
		f, err := r.Next()
		if ctx.Err() != nil {
			// The transport aborts the read on cancel; whatever it returned is moot.
			term.Reason = Cancelled
			return term
		}
		if errors.Is(err, io.EOF) {
			term.Reason = StreamClosed
			return term
		}
		if err != nil {
			term.Reason, term.Err = StreamError, err
			return term
		}

		term.Frames++
		msg, err := relay.Classify(f)
		if err != nil {
			log.Debug("frame rejected", logx.String("reason", string(relay.RejectionReason(err))), logx.Err(err))
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeFrameRejected, Time: time.Now(), Data: string(relay.RejectionReason(err))})
			continue
		}
		switch err := s.presenter.Present(ctx, msg); {
		case err == nil:
			term.Presented++
		case errors.Is(err, presenter.ErrSuppressed):
		default:
			log.Warn("present failed", logx.Err(err))
		}
	}
}

func (s *Session) publish(typ string, sub relay.Subscription) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: sub})
}
