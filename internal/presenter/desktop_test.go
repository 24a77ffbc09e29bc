package presenter

import (
	"context"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "jtechpush/pkg/logx"
)

type fakeNotifications struct {
	mu   sync.Mutex
	next uint32
	args [][]interface{}
}

func (f *fakeNotifications) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.args = append(f.args, args)
	return &dbus.Call{Method: method, Body: []interface{}{f.next}}
}

func TestDesktopShowAndActivate(t *testing.T) {
	fake := &fakeNotifications{}
	s := newDesktopSink(DesktopConfig{}, logx.Nop(), fake)
	var opened []string
	s.open = func(url string) error {
		opened = append(opened, url)
		return nil
	}

	require.NoError(t, s.Show(context.Background(), Notification{ID: 100, Title: "T", Body: "B", Click: "https://x/1"}))
	require.NoError(t, s.Show(context.Background(), Notification{ID: 101, Title: "T", Body: "no click"}))

	require.Len(t, fake.args, 2)
	assert.Equal(t, "jtechpush", fake.args[0][0])
	assert.Equal(t, []string{"default", "Open"}, fake.args[0][5])
	assert.Nil(t, fake.args[1][5])

	// server id 1 carries the click target; id 2 has none
	s.handleSignal(&dbus.Signal{Name: sigAction, Body: []interface{}{uint32(2), "default"}})
	s.handleSignal(&dbus.Signal{Name: sigAction, Body: []interface{}{uint32(1), "default"}})
	s.handleSignal(&dbus.Signal{Name: sigAction, Body: []interface{}{uint32(1), "default"}})
	assert.Equal(t, []string{"https://x/1"}, opened)
}

func TestDesktopClosedForgetsClick(t *testing.T) {
	fake := &fakeNotifications{}
	s := newDesktopSink(DesktopConfig{}, logx.Nop(), fake)
	opened := 0
	s.open = func(string) error { opened++; return nil }

	require.NoError(t, s.Show(context.Background(), Notification{ID: 100, Click: "https://x"}))
	s.handleSignal(&dbus.Signal{Name: sigClosed, Body: []interface{}{uint32(1), uint32(2)}})
	s.handleSignal(&dbus.Signal{Name: sigAction, Body: []interface{}{uint32(1), "default"}})
	assert.Zero(t, opened)
}

func TestDesktopTrackingIsBounded(t *testing.T) {
	s := newDesktopSink(DesktopConfig{}, logx.Nop(), &fakeNotifications{})
	for i := 0; i < maxTrackedID+10; i++ {
		s.track(uint32(i), "https://x")
	}
	assert.Len(t, s.clicks, maxTrackedID)
	assert.Len(t, s.order, maxTrackedID)
}
