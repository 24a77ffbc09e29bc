package subscription

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"jtechpush/internal/relay"
)

type fakePresenter struct {
	mu   sync.Mutex
	msgs []relay.Message
	err  error
}

func (p *fakePresenter) Present(_ context.Context, m relay.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return p.err
}

func (p *fakePresenter) bodies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Body)
	}
	return out
}

func frame(body string) string {
	return fmt.Sprintf("event: message\ndata: {\"event\":\"message\",\"message\":%q}\n\n", body)
}

// relayServer serves scripted SSE streams and tracks connections.
type relayServer struct {
	*httptest.Server

	requests     atomic.Int32
	active       atomic.Int32
	maxActive    atomic.Int32
	disconnected chan string

	mu    sync.Mutex
	paths []string
}

// newRelayServer serves script(path) on each request and then holds the
// stream open until the client goes away, unless hold is false.
func newRelayServer(t *testing.T, hold bool, script func(path string) (status int, body string)) *relayServer {
	t.Helper()
	rs := &relayServer{disconnected: make(chan string, 64)}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.requests.Add(1)
		n := rs.active.Add(1)
		defer rs.active.Add(-1)
		for {
			m := rs.maxActive.Load()
			if n <= m || rs.maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		rs.mu.Lock()
		rs.paths = append(rs.paths, r.URL.Path)
		rs.mu.Unlock()

		status, body := script(r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		if !hold || status != http.StatusOK {
			return
		}
		<-r.Context().Done()
		rs.disconnected <- r.URL.Path
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *relayServer) seenPaths() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.paths...)
}
