package subscription

import (
	"context"
	"sync"
	"time"

	"jtechpush/internal/eventbus"
	"jtechpush/internal/relay"
	logx "jtechpush/pkg/logx"
)

// State is the supervisor's connection state.
type State int

const (
	Idle State = iota
	Connecting
	Streaming
	Draining
	Backoff
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}

const (
	DefaultReconnectDelay     = 5 * time.Second
	DefaultNotConfiguredDelay = 10 * time.Second
)

// Source returns the subscription to use for the next connection attempt.
// It is called once per attempt, so configuration changes apply on reconnect.
type Source interface {
	Subscription() relay.Subscription
}

// SourceFunc adapts a function to Source.
type SourceFunc func() relay.Subscription

func (f SourceFunc) Subscription() relay.Subscription { return f() }

// Runner runs one session. *Session is the production Runner.
// A Runner calls MarkStreaming once its stream is established.
type Runner interface {
	Run(ctx context.Context, sub relay.Subscription) Termination
}

type streamingKey struct{}

// MarkStreaming moves the supervisor that started ctx's session to Streaming.
// It is a no-op outside a supervised session.
func MarkStreaming(ctx context.Context) {
	if fn, ok := ctx.Value(streamingKey{}).(func()); ok {
		fn()
	}
}

// Snapshot is a point-in-time view of the supervisor.
type Snapshot struct {
	Running       bool               `json:"running"`
	State         string             `json:"state"`
	NotConfigured bool               `json:"not_configured"`
	Subscription  relay.Subscription `json:"subscription"`
	Attempts      int                `json:"attempts"`
	ActiveSession bool               `json:"active_session"`
	LastReason    string             `json:"last_reason,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
	LastEnded     time.Time          `json:"last_ended,omitempty"`
	Presented     int                `json:"presented"`
}

// Supervisor keeps at most one session alive, reconnecting after every
// termination. Start, Stop and Reconfigure may be called from any goroutine.
type Supervisor struct {
	src      Source
	sessions func() Runner
	log      logx.Logger
	bus      eventbus.Bus

	mu             sync.Mutex
	running        bool
	stopCh         chan struct{}
	done           chan struct{}
	cancelSession  context.CancelFunc
	reconnectDelay time.Duration
	notConfDelay   time.Duration

	state         State
	notConfigured bool
	current       relay.Subscription
	attempts      int
	presented     int
	last          *Termination
	lastEnded     time.Time
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(s *Supervisor) { s.bus = bus } }

// WithDelays overrides the reconnect and not-configured waits. Zero keeps the default.
func WithDelays(reconnect, notConfigured time.Duration) Option {
	return func(s *Supervisor) { s.setDelaysLocked(reconnect, notConfigured) }
}

// NewSupervisor builds a stopped supervisor. sessions is called once per
// connection attempt and may return a fresh or a reused Runner.
func NewSupervisor(src Source, sessions func() Runner, opts ...Option) *Supervisor {
	s := &Supervisor{
		src:            src,
		sessions:       sessions,
		bus:            eventbus.Nop(),
		reconnectDelay: DefaultReconnectDelay,
		notConfDelay:   DefaultNotConfiguredDelay,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// SetDelays changes the waits used from the next cycle on.
func (s *Supervisor) SetDelays(reconnect, notConfigured time.Duration) {
	s.mu.Lock()
	s.setDelaysLocked(reconnect, notConfigured)
	s.mu.Unlock()
}

func (s *Supervisor) setDelaysLocked(reconnect, notConfigured time.Duration) {
	if reconnect > 0 {
		s.reconnectDelay = reconnect
	}
	if notConfigured > 0 {
		s.notConfDelay = notConfigured
	}
}

// Start launches the worker loop. It is a no-op while running.
func (s *Supervisor) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	prev := s.done
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopCh, s.done = stop, done

	go func() {
		defer close(done)
		// A previous loop whose Stop timed out must be gone before we connect.
		if prev != nil {
			select {
			case <-prev:
			case <-stop:
				return
			}
		}
		s.loop(ctx, stop, done)
	}()
	s.log.Info("subscription supervisor started")
}

// Stop ends the loop, cancelling any active session, and waits until the
// worker has exited or ctx is done. It is a no-op while stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	if s.cancelSession != nil {
		s.cancelSession()
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info("subscription supervisor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconfigure drops the active session so the loop reconnects with the
// current configuration after the usual delay. It is a no-op without an
// active session.
func (s *Supervisor) Reconfigure() {
	s.mu.Lock()
	cancel := s.cancelSession
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	s.log.Info("reconfigure: dropping active session")
	cancel()
}

// Running reports whether the loop is started.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Running:       s.running,
		State:         s.state.String(),
		NotConfigured: s.notConfigured,
		Subscription:  s.current,
		Attempts:      s.attempts,
		ActiveSession: s.cancelSession != nil,
		Presented:     s.presented,
		LastEnded:     s.lastEnded,
	}
	if s.last != nil {
		snap.LastReason = s.last.Reason.String()
		if s.last.Err != nil {
			snap.LastError = s.last.Err.Error()
		}
	}
	return snap
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) loop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.state = Idle
		s.cancelSession = nil
		// Parent context ended without Stop: allow a later Start.
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
	}()

	for {
		if isDone(ctx, stop) {
			return
		}

		sub := s.src.Subscription()
		if !sub.Configured() {
			s.mu.Lock()
			s.notConfigured, s.current, s.state = true, sub, Backoff
			delay := s.notConfDelay
			s.mu.Unlock()
			s.log.Debug("subscription not configured; waiting", logx.Duration("delay", delay))
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotConfigured, Time: time.Now()})
			if !wait(ctx, stop, delay) {
				return
			}
			continue
		}

		runner := s.sessions()
		sctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		if isDone(ctx, stop) {
			s.mu.Unlock()
			cancel()
			return
		}
		s.cancelSession = cancel
		s.notConfigured, s.current, s.state = false, sub, Connecting
		s.attempts++
		s.mu.Unlock()

		sctx = context.WithValue(sctx, streamingKey{}, func() { s.setState(Streaming) })
		term := runner.Run(sctx, sub)
		cancel()

		s.mu.Lock()
		s.cancelSession = nil
		s.state = Draining
		s.last = &term
		s.lastEnded = time.Now()
		s.presented += term.Presented
		delay := s.reconnectDelay
		s.mu.Unlock()

		s.logTermination(sub, term)
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionEnded, Time: time.Now(), Data: term})

		if isDone(ctx, stop) {
			return
		}
		s.setState(Backoff)
		if !wait(ctx, stop, delay) {
			return
		}
	}
}

func (s *Supervisor) logTermination(sub relay.Subscription, t Termination) {
	fields := []logx.Field{
		logx.String("server", sub.Server),
		logx.String("topic", sub.Topic),
		logx.String("reason", t.Reason.String()),
		logx.Int("frames", t.Frames),
		logx.Duration("duration", t.Duration),
	}
	switch t.Reason {
	case Cancelled:
		s.log.Info("session cancelled", fields...)
	case StreamClosed:
		s.log.Info("stream closed by server", fields...)
	default:
		s.log.Warn("session failed", append(fields, logx.Err(t.Err))...)
	}
}

func isDone(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// wait sleeps for d. It returns false when interrupted by stop or ctx.
func wait(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}
