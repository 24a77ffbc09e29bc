package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jtechpush/internal/config"
	"jtechpush/internal/presenter"
	"jtechpush/internal/relay"
	logx "jtechpush/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Config
		enabled bool
		wantErr bool
	}{
		{name: "nil section", cfg: &config.Config{}},
		{name: "none", cfg: &config.Config{Storage: &config.StorageConfig{Driver: "none"}}},
		{name: "file", cfg: &config.Config{Storage: &config.StorageConfig{Driver: "file", Path: "x"}}, enabled: true},
		{name: "sqlite without path", cfg: &config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}}, wantErr: true},
		{name: "sqlite", cfg: &config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "a.db"}}, enabled: true},
		{name: "unknown", cfg: &config.Config{Storage: &config.StorageConfig{Driver: "redis"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, enabled, err := MapStorageConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, enabled)
			if enabled && sc.Driver == "sqlite" {
				assert.Equal(t, time.Second, sc.BusyTimeout)
			}
		})
	}
}

func TestMapPresenterDefaults(t *testing.T) {
	pc, err := mapPresenter(&config.Config{}, relay.Push)
	require.NoError(t, err)
	assert.True(t, pc.Gated)
	assert.Equal(t, DefaultClickURL, pc.DefaultClick)

	cfg := &config.Config{Subscription: config.SubscriptionConfig{DefaultClickURL: " https://example.org/view "}}
	cfg.Presenter.RetryBase = "2s"
	pc, err = mapPresenter(cfg, relay.Ntfy)
	require.NoError(t, err)
	assert.False(t, pc.Gated)
	assert.Equal(t, "https://example.org/view", pc.DefaultClick)
	assert.Equal(t, 2*time.Second, pc.RetryBase)
}

func TestSinkNames(t *testing.T) {
	assert.Equal(t, []string{"log"}, sinkNames(&config.Config{}))

	cfg := &config.Config{Presenter: config.PresenterConfig{Sinks: []string{"Desktop", "log", "desktop", " "}}}
	assert.Equal(t, []string{"desktop", "log"}, sinkNames(cfg))
}

func TestBuildSinkFallsBackToLog(t *testing.T) {
	a := &App{
		root: logx.Nop(),
		log:  logx.Nop(),
		newDesktop: func(presenter.DesktopConfig, logx.Logger) (*presenter.DesktopSink, error) {
			return nil, errors.New("no session bus")
		},
	}
	cfg := &config.Config{Presenter: config.PresenterConfig{Sinks: []string{"desktop", "telegram"}}}
	assert.IsType(t, presenter.LogSink{}, a.buildSink(cfg))

	cfg.Presenter.Sinks = []string{"log"}
	assert.Equal(t, "log", a.buildSink(cfg).Name())
}

// streamServer serves two messages per connection and holds the stream open.
type streamServer struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()
	s := &streamServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, body := range []string{"first post", "second post"} {
			fmt.Fprintf(w, "event: message\ndata: {\"event\":\"message\",\"message\":%q}\n\n", body)
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) sawPath(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.paths {
		if got == p {
			return true
		}
	}
	return false
}

func writeConfig(t *testing.T, dir, server string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := strings.Join([]string{
		"subscription:",
		"  server: " + server,
		"  topic: alerts",
		"  reconnect_delay: 50ms",
		"logging:",
		"  level: error",
		"storage:",
		"  driver: sqlite",
		"  path: " + filepath.Join(dir, "history.db"),
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppDeliversAndReconfigures(t *testing.T) {
	srv := newStreamServer(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, srv.URL)

	a, err := New(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		require.NoError(t, a.Stop(sctx))
	}()

	require.Eventually(t, func() bool {
		items, err := a.store.RecentDeliveries(ctx, 10)
		return err == nil && len(items) == 2
	}, 5*time.Second, 20*time.Millisecond)

	items, err := a.store.RecentDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, presenter.FirstID+1, items[0].ID)
	assert.Equal(t, "second post", items[0].Body)
	assert.Equal(t, relay.DefaultTitle, items[0].Title)
	assert.Equal(t, DefaultClickURL, items[0].Click)
	assert.Equal(t, "alerts", items[0].Topic)
	assert.True(t, srv.sawPath("/alerts/sse"))

	st := a.Status(ctx).(Status)
	assert.Equal(t, "ntfy", st.Variant)
	assert.Equal(t, presenter.FirstID+2, st.NextID)
	assert.True(t, st.Storage)

	require.NoError(t, a.cfgm.SetSubscription(ctx, relay.Subscription{Server: srv.URL, Topic: "other"}))
	require.Eventually(t, func() bool { return srv.sawPath("/other/sse") }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, a.SetFlag(ctx, config.FlagService, false))
	assert.False(t, a.Flag(config.FlagService))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "service: false")
	assert.Contains(t, a.StatusText(ctx), "Topic other on "+srv.URL)
}

func TestNewWithMissingConfigIdles(t *testing.T) {
	a, err := New(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.False(t, a.subscription().Configured())
	assert.Equal(t, relay.Ntfy.DefaultServer, a.subscription().Server)
	assert.Contains(t, a.StatusText(context.Background()), "Not registered")
	assert.Nil(t, a.store)
}

func TestStopDrainsPresenterBeforeSinks(t *testing.T) {
	a, err := New(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	order := map[string]int{}
	for i, st := range a.stopSteps() {
		order[st.name] = i
	}
	require.Contains(t, order, "presenter")
	assert.Less(t, order["subscription"], order["presenter"])
	assert.Less(t, order["presenter"], order["telegram"])
	assert.Less(t, order["presenter"], order["desktop"])
	assert.Less(t, order["presenter"], order["storage"])
}
