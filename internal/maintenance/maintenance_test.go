package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jtechpush/internal/storage"
	logx "jtechpush/pkg/logx"
)

func TestPruneUsesRetention(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, st.AppendDelivery(ctx, storage.Delivery{At: now.Add(-48 * time.Hour), ID: 100, Sink: "log"}))
	require.NoError(t, st.AppendDelivery(ctx, storage.Delivery{At: now.Add(-time.Hour), ID: 101, Sink: "log"}))

	s := New(Config{Retention: 24 * time.Hour}, st, logx.Nop())
	s.now = func() time.Time { return now }
	n, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := st.RecentDeliveries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, 101, left[0].ID)
}

func TestScheduleRuns(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.AppendDelivery(ctx, storage.Delivery{At: time.Now().Add(-time.Hour), ID: 100, Sink: "log"}))

	s := New(Config{Schedule: "@every 1s", Retention: time.Minute}, st, logx.Nop())
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	require.Eventually(t, func() bool {
		left, err := st.RecentDeliveries(ctx, 0)
		return err == nil && len(left) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestStartWithoutStoreIsNoop(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	s.Stop(context.Background())
	_, err := s.Prune(context.Background())
	assert.ErrorIs(t, err, storage.ErrDisabled)
}

func TestBadScheduleFails(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	s := New(Config{Schedule: "whenever"}, st, logx.Nop())
	assert.Error(t, s.Start(context.Background()))
}
