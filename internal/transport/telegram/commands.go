package telegram

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "jtechpush/pkg/logx"
)

var ErrForbidden = errors.New("owner only")

// Control is what chat commands may change.
type Control interface {
	Flag(name string) bool
	SetFlag(ctx context.Context, name string, enabled bool) error
	StatusText(ctx context.Context) string
}

// Request is one incoming command.
type Request struct {
	ChatID   int64
	ThreadID int
	FromID   int64
	Command  string // without the leading slash or @bot suffix
	Args     []string
	Logger   logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (reply string, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					reply, err = "", fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			fields := []logx.Field{
				logx.Int64("chat_id", req.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("command ok", fields...)
			}
			return reply, err
		}
	}
}

// MWOwnerOnly rejects requests from anyone not listed in owners.
func MWOwnerOnly(owners []int64) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if !slices.Contains(owners, req.FromID) {
				return "", ErrForbidden
			}
			return next(ctx, req)
		}
	}
}

// Router maps chat commands onto Control.
type Router struct {
	ctl      Control
	log      logx.Logger
	handlers map[string]HandlerFunc
}

func NewRouter(ctl Control, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{ctl: ctl, log: log, handlers: map[string]HandlerFunc{}}
	mw := []Middleware{MWPanicRecover(log), MWRequestLog(log), MWOwnerOnly(owners), MWTimeout(10 * time.Second)}
	r.handlers["messages"] = Chain(r.flagHandler("messages"), mw...)
	r.handlers["service"] = Chain(r.flagHandler("service"), mw...)
	r.handlers["status"] = Chain(r.status, mw...)
	return r
}

// Commands lists the registered command names.
func (r *Router) Commands() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Dispatch runs the handler for req.Command and returns the reply text.
func (r *Router) Dispatch(ctx context.Context, req *Request) (string, error) {
	h, ok := r.handlers[req.Command]
	if !ok {
		return "", fmt.Errorf("unknown command /%s", req.Command)
	}
	if req.Logger.IsZero() {
		req.Logger = r.log
	}
	return h(ctx, req)
}

// Register installs telebot handlers for every command.
func (r *Router) Register(b *tele.Bot) {
	for _, name := range r.Commands() {
		name := name
		b.Handle("/"+name, func(c tele.Context) error {
			m := c.Message()
			if m == nil || c.Sender() == nil {
				return nil
			}
			req := &Request{
				ChatID:   m.Chat.ID,
				ThreadID: m.ThreadID,
				FromID:   c.Sender().ID,
				Command:  name,
				Args:     c.Args(),
			}
			reply, err := r.Dispatch(context.Background(), req)
			if errors.Is(err, ErrForbidden) {
				return nil
			}
			if err != nil {
				reply = "error: " + err.Error()
			}
			if reply == "" {
				return nil
			}
			return c.Send(reply, &tele.SendOptions{ThreadID: m.ThreadID})
		})
	}
}

func (r *Router) flagHandler(flag string) HandlerFunc {
	return func(ctx context.Context, req *Request) (string, error) {
		if len(req.Args) == 0 {
			return fmt.Sprintf("%s notifications: %s", flag, onOff(r.ctl.Flag(flag))), nil
		}
		var enabled bool
		switch strings.ToLower(strings.TrimSpace(req.Args[0])) {
		case "on", "enable", "true", "1":
			enabled = true
		case "off", "disable", "false", "0":
			enabled = false
		default:
			return fmt.Sprintf("usage: /%s on|off", flag), nil
		}
		if err := r.ctl.SetFlag(ctx, flag, enabled); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s notifications %s", flag, onOff(enabled)), nil
	}
}

func (r *Router) status(ctx context.Context, _ *Request) (string, error) {
	return r.ctl.StatusText(ctx), nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
