// Package telegram delivers notifications to a Telegram chat and accepts
// owner control commands (/messages, /service, /status) from it.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "jtechpush/internal/runtime/supervisor"
	logx "jtechpush/pkg/logx"
)

type Config struct {
	Token        string
	ChatID       int64
	ThreadID     int
	OwnerUserIDs []int64
	PollTimeout  time.Duration
	// Commands enables long polling for control commands.
	Commands bool
}

// sender is the part of *tele.Bot the sink needs.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Bot owns the telebot client. Sending works without Start; Start is only
// needed to receive commands.
type Bot struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{cfg: cfg, log: log, bot: b}, nil
}

// Sink returns a presentation sink posting to the configured chat.
func (b *Bot) Sink() *Sink {
	return &Sink{api: b.bot, chat: &tele.Chat{ID: b.cfg.ChatID}, threadID: b.cfg.ThreadID}
}

// Start registers the command router and polls for updates until Stop.
func (b *Bot) Start(ctx context.Context, r *Router) {
	if ctx == nil {
		ctx = context.Background()
	}
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running || !b.cfg.Commands || r == nil {
		return
	}
	b.running = true
	r.Register(b.bot)

	b.sup = rtsup.New(ctx, rtsup.WithLogger(b.log.With(logx.Comp("telegram"))))
	sup := b.sup

	// Ensure we stop telebot when the context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		b.bot.Stop()
	})
	// Telebot's Start() can return on its own in some failure modes; restart it.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		b.log.Info("polling started")
		b.bot.Start()
		b.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Stop ends polling. It never blocks shutdown longer than the grace window.
func (b *Bot) Stop(ctx context.Context) {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	b.running = false
	b.runMu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()

	grace := 2 * time.Second
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && errors.Is(err, context.DeadlineExceeded) {
		b.log.Warn("telegram stop timed out", logx.Err(err))
	}
}
