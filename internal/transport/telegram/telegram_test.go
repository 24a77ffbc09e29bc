package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"jtechpush/internal/presenter"
	logx "jtechpush/pkg/logx"
)

type sent struct {
	to   tele.Recipient
	what interface{}
	opt  *tele.SendOptions
}

type fakeAPI struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := sent{to: to, what: what}
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			s.opt = so
		}
	}
	f.msgs = append(f.msgs, s)
	return &tele.Message{ID: len(f.msgs)}, nil
}

func TestSinkShowWithClickButton(t *testing.T) {
	api := &fakeAPI{}
	s := &Sink{api: api, chat: &tele.Chat{ID: -100}, threadID: 7}

	require.NoError(t, s.Show(context.Background(), presenter.Notification{ID: 100, Title: "A & B", Body: "<hi>", Click: "https://x/1"}))
	require.Len(t, api.msgs, 1)
	m := api.msgs[0]
	assert.Equal(t, "<b>A &amp; B</b>\n&lt;hi&gt;", m.what)
	require.NotNil(t, m.opt)
	assert.Equal(t, 7, m.opt.ThreadID)
	require.NotNil(t, m.opt.ReplyMarkup)
	require.Len(t, m.opt.ReplyMarkup.InlineKeyboard, 1)
	assert.Equal(t, "https://x/1", m.opt.ReplyMarkup.InlineKeyboard[0][0].URL)
}

func TestSinkShowWithoutClick(t *testing.T) {
	api := &fakeAPI{}
	s := &Sink{api: api, chat: &tele.Chat{ID: 1}}
	require.NoError(t, s.Show(context.Background(), presenter.Notification{ID: 100, Body: "plain"}))
	assert.Nil(t, api.msgs[0].opt.ReplyMarkup)
	assert.Equal(t, "plain", api.msgs[0].what)
}

func TestSinkSendError(t *testing.T) {
	s := &Sink{api: &fakeAPI{err: errors.New("flood")}, chat: &tele.Chat{ID: 1}}
	err := s.Show(context.Background(), presenter.Notification{Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flood")
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	assert.Equal(t, []string{strings.Repeat("a", 8), strings.Repeat("b", 8)}, splitText(long, 10))

	chunks := splitText(strings.Repeat("x", 25), 10)
	assert.Len(t, chunks, 3)

	// never cut inside a tag
	for _, c := range splitText("abcdefg<b>bold</b>", 9) {
		assert.Equal(t, strings.Count(c, "<"), strings.Count(c, ">"), c)
	}
}

type fakeControl struct {
	flags map[string]bool
}

func (f *fakeControl) Flag(name string) bool { return f.flags[name] }
func (f *fakeControl) SetFlag(_ context.Context, name string, enabled bool) error {
	if name != "messages" && name != "service" {
		return errors.New("unknown flag")
	}
	f.flags[name] = enabled
	return nil
}
func (f *fakeControl) StatusText(context.Context) string { return "streaming" }

func TestRouterFlags(t *testing.T) {
	ctl := &fakeControl{flags: map[string]bool{"messages": true}}
	r := NewRouter(ctl, []int64{42}, logx.Nop())
	ctx := context.Background()

	reply, err := r.Dispatch(ctx, &Request{FromID: 42, Command: "messages", Args: []string{"off"}})
	require.NoError(t, err)
	assert.Equal(t, "messages notifications off", reply)
	assert.False(t, ctl.flags["messages"])

	reply, err = r.Dispatch(ctx, &Request{FromID: 42, Command: "messages"})
	require.NoError(t, err)
	assert.Equal(t, "messages notifications: off", reply)

	reply, err = r.Dispatch(ctx, &Request{FromID: 42, Command: "service", Args: []string{"maybe"}})
	require.NoError(t, err)
	assert.Equal(t, "usage: /service on|off", reply)

	reply, err = r.Dispatch(ctx, &Request{FromID: 42, Command: "status"})
	require.NoError(t, err)
	assert.Equal(t, "streaming", reply)

	assert.Equal(t, []string{"messages", "service", "status"}, r.Commands())
}

func TestRouterOwnerOnly(t *testing.T) {
	ctl := &fakeControl{flags: map[string]bool{"messages": true}}
	r := NewRouter(ctl, []int64{42}, logx.Nop())
	_, err := r.Dispatch(context.Background(), &Request{FromID: 7, Command: "messages", Args: []string{"off"}})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.True(t, ctl.flags["messages"])

	_, err = r.Dispatch(context.Background(), &Request{FromID: 42, Command: "reboot"})
	assert.Error(t, err)
}

func TestPanicRecover(t *testing.T) {
	h := Chain(func(context.Context, *Request) (string, error) { panic("boom") }, MWPanicRecover(logx.Nop()))
	_, err := h(context.Background(), &Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
