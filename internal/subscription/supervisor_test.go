package subscription

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jtechpush/internal/eventbus"
	"jtechpush/internal/relay"
)

type mutableSource struct {
	mu  sync.Mutex
	sub relay.Subscription
}

func (s *mutableSource) Subscription() relay.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

func (s *mutableSource) set(sub relay.Subscription) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
}

func newTestSupervisor(src Source, p Presenter, bus eventbus.Bus, reconnect time.Duration) *Supervisor {
	sess := NewSession(relay.Ntfy, p, time.Second, WithSessionBus(bus))
	return NewSupervisor(src, func() Runner { return sess },
		WithBus(bus),
		WithDelays(reconnect, 20*time.Millisecond),
	)
}

func stopNow(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestReconfigureWhileStreaming(t *testing.T) {
	srv := newRelayServer(t, true, func(path string) (int, string) {
		topic := strings.Split(strings.TrimPrefix(path, "/"), "/")[0]
		// Each stream ends with a frame that never terminates.
		return http.StatusOK, frame("from-"+topic) + "data: {\"message\":\"partial-" + topic + "\"}\n"
	})
	src := &mutableSource{sub: relay.Subscription{Server: srv.URL, Topic: "a"}}
	p := &fakePresenter{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	s := newTestSupervisor(src, p, bus, 20*time.Millisecond)
	s.Start(context.Background())

	require.Eventually(t, func() bool { return len(p.bodies()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Snapshot().State == Streaming.String() }, 2*time.Second, 5*time.Millisecond)

	src.set(relay.Subscription{Server: srv.URL, Topic: "b"})
	s.Reconfigure()

	require.Eventually(t, func() bool { return len(p.bodies()) == 2 }, 2*time.Second, 5*time.Millisecond)
	select {
	case path := <-srv.disconnected:
		assert.Equal(t, "/a/sse", path)
	case <-time.After(2 * time.Second):
		t.Fatal("old connection was not released")
	}

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.Attempts)
	assert.Equal(t, "b", snap.Subscription.Topic)
	assert.Equal(t, Cancelled.String(), snap.LastReason)

	stopNow(t, s)
	assert.Equal(t, []string{"from-a", "from-b"}, p.bodies())
	assert.Equal(t, []string{"/a/sse", "/b/sse"}, srv.seenPaths())

	var cancelled int
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeSessionEnded && ev.Data.(Termination).Reason == Cancelled {
				cancelled++
			}
			continue
		default:
		}
		break
	}
	// one from Reconfigure, one from Stop
	assert.Equal(t, 2, cancelled)
}

func TestReconnectsAfterServerClose(t *testing.T) {
	srv := newRelayServer(t, false, func(string) (int, string) { return http.StatusOK, frame("x") })
	src := &mutableSource{sub: relay.Subscription{Server: srv.URL, Topic: "t"}}
	p := &fakePresenter{}
	s := newTestSupervisor(src, p, eventbus.Nop(), 10*time.Millisecond)
	s.Start(context.Background())
	defer stopNow(t, s)

	require.Eventually(t, func() bool { return srv.requests.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StreamClosed.String(), s.Snapshot().LastReason)
}

func TestNotConfiguredMakesNoRequest(t *testing.T) {
	srv := newRelayServer(t, true, func(string) (int, string) { return http.StatusOK, frame("x") })
	src := &mutableSource{}
	s := newTestSupervisor(src, &fakePresenter{}, eventbus.Nop(), 10*time.Millisecond)
	s.Start(context.Background())
	defer stopNow(t, s)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, srv.requests.Load())
	snap := s.Snapshot()
	assert.True(t, snap.NotConfigured)
	assert.Zero(t, snap.Attempts)
	assert.False(t, snap.ActiveSession)

	// Reconfigure is a no-op without a session; the next cycle re-reads the source.
	s.Reconfigure()
	src.set(relay.Subscription{Server: srv.URL, Topic: "t"})
	require.Eventually(t, func() bool { return srv.requests.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopDuringBackoffIsPrompt(t *testing.T) {
	srv := newRelayServer(t, false, func(string) (int, string) { return http.StatusServiceUnavailable, "" })
	src := &mutableSource{sub: relay.Subscription{Server: srv.URL, Topic: "t"}}
	s := newTestSupervisor(src, &fakePresenter{}, eventbus.Nop(), time.Hour)
	s.Start(context.Background())

	require.Eventually(t, func() bool { return s.Snapshot().State == Backoff.String() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ConnectFailed.String(), s.Snapshot().LastReason)

	began := time.Now()
	stopNow(t, s)
	assert.Less(t, time.Since(began), time.Second)
	assert.False(t, s.Running())
	assert.Equal(t, int32(1), srv.requests.Load())
}

func TestConcurrentStartRunsOneSession(t *testing.T) {
	srv := newRelayServer(t, true, func(string) (int, string) { return http.StatusOK, frame("x") })
	src := &mutableSource{sub: relay.Subscription{Server: srv.URL, Topic: "t"}}
	s := newTestSupervisor(src, &fakePresenter{}, eventbus.Nop(), 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Start(context.Background())
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return srv.requests.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), srv.requests.Load())
	assert.Equal(t, int32(1), srv.maxActive.Load())

	stopNow(t, s)
	select {
	case <-srv.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop returned without releasing the connection")
	}
	assert.Zero(t, srv.active.Load())
}

func TestStopAndStartAreIdempotent(t *testing.T) {
	var runs atomic.Int32
	runner := runnerFunc(func(ctx context.Context, _ relay.Subscription) Termination {
		runs.Add(1)
		<-ctx.Done()
		return Termination{Reason: Cancelled}
	})
	src := SourceFunc(func() relay.Subscription { return relay.Subscription{Server: "http://x", Topic: "t"} })
	s := NewSupervisor(src, func() Runner { return runner }, WithDelays(10*time.Millisecond, 10*time.Millisecond))

	require.NoError(t, s.Stop(context.Background()))
	s.Reconfigure()

	s.Start(context.Background())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Snapshot().ActiveSession }, time.Second, 5*time.Millisecond)
	stopNow(t, s)
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, Idle.String(), s.Snapshot().State)

	// restart after stop
	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
	stopNow(t, s)
}

func TestParentContextEndsLoop(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, _ relay.Subscription) Termination {
		<-ctx.Done()
		return Termination{Reason: Cancelled}
	})
	src := SourceFunc(func() relay.Subscription { return relay.Subscription{Server: "http://x", Topic: "t"} })
	s := NewSupervisor(src, func() Runner { return runner })

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return s.Snapshot().ActiveSession }, time.Second, 5*time.Millisecond)
	cancel()
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
}

type runnerFunc func(ctx context.Context, sub relay.Subscription) Termination

func (f runnerFunc) Run(ctx context.Context, sub relay.Subscription) Termination { return f(ctx, sub) }

func TestAnyRunnerCanReportStreaming(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, _ relay.Subscription) Termination {
		MarkStreaming(ctx)
		<-ctx.Done()
		return Termination{Reason: Cancelled}
	})
	src := SourceFunc(func() relay.Subscription { return relay.Subscription{Server: "http://x", Topic: "t"} })
	s := NewSupervisor(src, func() Runner { return runner }, WithDelays(time.Hour, time.Hour))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Snapshot().State == Streaming.String() }, time.Second, 5*time.Millisecond)
	stopNow(t, s)
}

func TestMarkStreamingOutsideSupervisorIsNoop(t *testing.T) {
	assert.NotPanics(t, func() { MarkStreaming(context.Background()) })
}
