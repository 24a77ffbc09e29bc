package subscription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jtechpush/internal/presenter"
	"jtechpush/internal/relay"
)

func TestSessionPresentsInOrderAndReportsClose(t *testing.T) {
	srv := newRelayServer(t, false, func(string) (int, string) {
		return http.StatusOK, frame("one") +
			"event: open\ndata: {}\n\n" +
			"data: {\"message\":\"dumbcourse-x\"}\n\n" +
			frame("two") +
			"data: {\"message\":\"never terminated\"}\n"
	})
	p := &fakePresenter{}
	s := NewSession(relay.Ntfy, p, time.Second)

	term := s.Run(context.Background(), relay.Subscription{Server: srv.URL, Topic: "jtech"})
	assert.Equal(t, StreamClosed, term.Reason)
	assert.NoError(t, term.Err)
	assert.Equal(t, 4, term.Frames)
	assert.Equal(t, 2, term.Presented)
	assert.Equal(t, []string{"one", "two"}, p.bodies())
	assert.Equal(t, []string{"/jtech/sse"}, srv.seenPaths())
}

func TestSessionPushVariantPath(t *testing.T) {
	srv := newRelayServer(t, false, func(string) (int, string) { return http.StatusOK, frame("x") })
	s := NewSession(relay.Push, &fakePresenter{}, time.Second)
	term := s.Run(context.Background(), relay.Subscription{Server: srv.URL + "/", Topic: "jtech"})
	assert.Equal(t, StreamClosed, term.Reason)
	assert.Equal(t, []string{"/jtech"}, srv.seenPaths())
}

func TestSessionNon2xxIsConnectFailed(t *testing.T) {
	srv := newRelayServer(t, false, func(string) (int, string) { return http.StatusNotFound, "nope" })
	p := &fakePresenter{}
	term := NewSession(relay.Ntfy, p, time.Second).Run(context.Background(), relay.Subscription{Server: srv.URL, Topic: "t"})
	assert.Equal(t, ConnectFailed, term.Reason)
	require.Error(t, term.Err)
	assert.Contains(t, term.Err.Error(), "404")
	assert.Empty(t, p.bodies())
}

func TestSessionUnreachableIsConnectFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	term := NewSession(relay.Ntfy, &fakePresenter{}, time.Second).Run(context.Background(), relay.Subscription{Server: url, Topic: "t"})
	assert.Equal(t, ConnectFailed, term.Reason)
	assert.Error(t, term.Err)
}

func TestSessionNotConfigured(t *testing.T) {
	term := NewSession(relay.Push, &fakePresenter{}, time.Second).Run(context.Background(), relay.Subscription{Topic: "t"})
	assert.Equal(t, ConnectFailed, term.Reason)
	assert.ErrorIs(t, term.Err, relay.ErrNotConfigured)
}

func TestSessionCancelReleasesConnection(t *testing.T) {
	srv := newRelayServer(t, true, func(string) (int, string) {
		return http.StatusOK, frame("first") + "data: {\"message\":\"half\"}\n"
	})
	p := &fakePresenter{}
	s := NewSession(relay.Ntfy, p, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan Termination, 1)
	go func() { res <- s.Run(ctx, relay.Subscription{Server: srv.URL, Topic: "t"}) }()

	require.Eventually(t, func() bool { return len(p.bodies()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case term := <-res:
		assert.Equal(t, Cancelled, term.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	select {
	case <-srv.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the client disconnect")
	}
	assert.Equal(t, []string{"first"}, p.bodies())
}

func TestSessionSuppressedIsNotCounted(t *testing.T) {
	srv := newRelayServer(t, false, func(string) (int, string) { return http.StatusOK, frame("x") })
	p := &fakePresenter{err: presenter.ErrSuppressed}
	term := NewSession(relay.Push, p, time.Second).Run(context.Background(), relay.Subscription{Server: srv.URL, Topic: "t"})
	assert.Equal(t, StreamClosed, term.Reason)
	assert.Equal(t, 1, term.Frames)
	assert.Zero(t, term.Presented)
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "stream_error", StreamError.String())
	assert.Equal(t, "unknown", Reason(0).String())
}
