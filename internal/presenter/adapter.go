package presenter

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"jtechpush/internal/eventbus"
	"jtechpush/internal/relay"
	rtsup "jtechpush/internal/runtime/supervisor"
	"jtechpush/internal/storage"
	logx "jtechpush/pkg/logx"
)

const flagMessages = "messages"

type job struct {
	n      Notification
	origin relay.Subscription
}

// Adapter is the notification sink adapter between the subscription engine
// and a Sink. It is safe for concurrent use.
type Adapter struct {
	nextID atomic.Int64

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sink    Sink

	log    logx.Logger
	bus    eventbus.Bus
	store  storage.Store
	flags  Flags
	origin func() relay.Subscription

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
}

type Option func(*Adapter)

func WithLogger(log logx.Logger) Option { return func(a *Adapter) { a.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(a *Adapter) { a.bus = bus } }

// WithStore records every delivery attempt outcome in the history.
func WithStore(st storage.Store) Option { return func(a *Adapter) { a.store = st } }

// WithFlags sets the flag source consulted by gated variants.
func WithFlags(f Flags) Option { return func(a *Adapter) { a.flags = f } }

// WithOrigin tags history records with the subscription current at Present time.
func WithOrigin(fn func() relay.Subscription) Option { return func(a *Adapter) { a.origin = fn } }

func New(cfg Config, sink Sink, opts ...Option) *Adapter {
	a := &Adapter{sink: sink, bus: eventbus.Nop()}
	for _, o := range opts {
		o(a)
	}
	if a.log.IsZero() {
		a.log = logx.Nop()
	}
	if a.bus == nil {
		a.bus = eventbus.Nop()
	}
	a.nextID.Store(FirstID)
	a.applyLocked(cfg)
	return a
}

// Apply swaps queue tuning, gate and sink. The queue size only changes on the next Start.
func (a *Adapter) Apply(cfg Config, sink Sink) {
	a.mu.Lock()
	a.applyLocked(cfg)
	if sink != nil {
		a.sink = sink
	}
	a.mu.Unlock()
}

func (a *Adapter) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	a.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	a.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the delivery worker. It is idempotent.
func (a *Adapter) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.queue != nil {
		return
	}
	q := make(chan job, a.cfg.QueueSize)
	a.queue = q
	a.accepting = true
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.Comp("presenter"))))
	// One worker: notifications are shown in arrival order.
	a.sup.Go0("worker", func(c context.Context) { a.workerLoop(c, q) })
}

// Stop stops intake and drains the queue until ctx is done, then abandons the rest.
func (a *Adapter) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	q, sup := a.queue, a.sup
	if q == nil || !a.accepting {
		a.mu.Unlock()
		return
	}
	a.accepting = false
	a.mu.Unlock()

	a.sendWG.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}

	a.mu.Lock()
	a.queue = nil
	a.sup = nil
	a.mu.Unlock()
}

// Present shows msg unless the gate suppresses it. IDs are allocated here, in
// call order, starting at FirstID.
//
// The returned error reports suppression or intake failure only; delivery
// happens asynchronously.
func (a *Adapter) Present(ctx context.Context, msg relay.Message) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	a.mu.Lock()
	cfg := a.cfg
	if cfg.Gated && a.flags != nil && !a.flags.Flag(flagMessages) {
		a.mu.Unlock()
		a.publish(eventbus.TypeSuppressed, Event{Title: msg.Title, At: time.Now()})
		a.log.Debug("notification suppressed", logx.String("title", msg.Title))
		return ErrSuppressed
	}
	if !a.accepting || a.queue == nil {
		a.mu.Unlock()
		return ErrStopped
	}
	q := a.queue
	a.sendWG.Add(1)
	a.mu.Unlock()
	defer a.sendWG.Done()

	n := Notification{
		ID:    int(a.nextID.Add(1) - 1),
		Title: msg.Title,
		Body:  msg.Body,
		Click: msg.Click,
	}
	if n.Click == "" {
		n.Click = cfg.DefaultClick
	}
	var origin relay.Subscription
	if a.origin != nil {
		origin = a.origin()
	}

	select {
	case q <- job{n: n, origin: origin}:
		return nil
	default:
		a.publish(eventbus.TypeDropped, Event{ID: n.ID, Title: n.Title, At: time.Now(), Error: ErrQueueFull.Error()})
		a.log.Warn("notification dropped", logx.Int("id", n.ID), logx.Int("queue_cap", cap(q)))
		return ErrQueueFull
	}
}

// NextID reports the identifier the next notification will get.
func (a *Adapter) NextID() int { return int(a.nextID.Load()) }

func (a *Adapter) publish(typ string, e Event) {
	a.bus.Publish(eventbus.Event{Type: typ, Time: e.At, Data: e})
}

func (a *Adapter) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			a.deliver(ctx, j)
		}
	}
}

func (a *Adapter) deliver(runCtx context.Context, j job) {
	a.mu.Lock()
	cfg, lim, sink := a.cfg, a.limiter, a.sink
	a.mu.Unlock()
	if sink == nil {
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var (
		lastErr  error
		attempts int
	)
	for attempts = 1; attempts <= maxAttempts; attempts++ {
		if err := lim.Wait(runCtx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(runCtx, cfg.SendTimeout)
		err := sink.Show(callCtx, j.n)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		a.log.Debug("notification send failed", logx.Err(err), logx.Int("id", j.n.ID), logx.Int("attempt", attempts), logx.Int("max", maxAttempts))
		if attempts >= maxAttempts || errors.Is(err, context.Canceled) {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempts))
		select {
		case <-t.C:
		case <-runCtx.Done():
			t.Stop()
			return
		}
	}
	attempts = min(attempts, maxAttempts)

	now := time.Now()
	ev := Event{ID: j.n.ID, Title: j.n.Title, Sink: sink.Name(), At: now}
	if lastErr != nil {
		ev.Error = lastErr.Error()
		a.publish(eventbus.TypeFailed, ev)
		a.log.Warn("notification failed", logx.Int("id", j.n.ID), logx.String("sink", sink.Name()), logx.Err(lastErr))
	} else {
		a.publish(eventbus.TypePresented, ev)
	}

	if a.store != nil {
		rec := storage.Delivery{
			At: now, ID: j.n.ID,
			Server: j.origin.Server, Topic: j.origin.Topic,
			Title: j.n.Title, Body: j.n.Body, Click: j.n.Click,
			Sink: sink.Name(), Error: ev.Error, Attempts: attempts,
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), 2*time.Second)
		if err := a.store.AppendDelivery(sctx, rec); err != nil {
			a.log.Debug("delivery history write failed", logx.Err(err))
		}
		cancel()
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	return min(max(d, 0), cfg.RetryMaxDelay)
}
