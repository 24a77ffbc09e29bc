package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jtechpush/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, drv := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: drv, Path: filepath.Join(dir, drv, "state.db")}, logx.Nop())
		require.NoError(t, err, drv)
		require.NotNil(t, st, drv)
		t.Cleanup(func() { _ = st.Close() })
		out[drv] = st
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	for _, drv := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: drv}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	require.Error(t, err)
}

func TestDeliveriesNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for drv, st := range openDrivers(t) {
		for i := 0; i < 3; i++ {
			require.NoError(t, st.AppendDelivery(ctx, Delivery{
				At: base.Add(time.Duration(i) * time.Minute), ID: 100 + i,
				Server: "https://ntfy.sh", Topic: "t", Title: "JtechForums", Body: "b", Sink: "log", Attempts: 1,
			}), drv)
		}
		got, err := st.RecentDeliveries(ctx, 2)
		require.NoError(t, err, drv)
		require.Len(t, got, 2, drv)
		assert.Equal(t, 102, got[0].ID, drv)
		assert.Equal(t, 101, got[1].ID, drv)
		assert.Equal(t, base.Add(2*time.Minute).UnixMilli(), got[0].At.UnixMilli(), drv)
	}
}

func TestPruneDeliveries(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for drv, st := range openDrivers(t) {
		for i := 0; i < 4; i++ {
			require.NoError(t, st.AppendDelivery(ctx, Delivery{At: base.Add(time.Duration(i) * time.Hour), ID: 100 + i, Sink: "log"}), drv)
		}
		n, err := st.PruneDeliveries(ctx, base.Add(2*time.Hour))
		require.NoError(t, err, drv)
		assert.Equal(t, 2, n, drv)

		// appends keep working after compaction
		require.NoError(t, st.AppendDelivery(ctx, Delivery{At: base.Add(5 * time.Hour), ID: 200, Sink: "log"}), drv)
		got, err := st.RecentDeliveries(ctx, 0)
		require.NoError(t, err, drv)
		require.Len(t, got, 3, drv)
		assert.Equal(t, 200, got[0].ID, drv)
	}
}

func TestDeviceIDIsStable(t *testing.T) {
	ctx := context.Background()
	for drv, st := range openDrivers(t) {
		a, err := st.DeviceID(ctx)
		require.NoError(t, err, drv)
		require.NotEmpty(t, a, drv)
		b, err := st.DeviceID(ctx)
		require.NoError(t, err, drv)
		assert.Equal(t, a, b, drv)
	}
}

func TestFileDeviceIDSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	a, err := st.DeviceID(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	b, err := st.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
