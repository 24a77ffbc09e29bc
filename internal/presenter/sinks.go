package presenter

import (
	"context"
	"errors"
	"strings"

	logx "jtechpush/pkg/logx"
)

// LogSink writes notifications to the log. It never fails.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Show(_ context.Context, n Notification) error {
	s.Log.Info("notification",
		logx.Int("id", n.ID),
		logx.String("title", n.Title),
		logx.String("body", n.Body),
		logx.String("click", n.Click),
	)
	return nil
}

// Multi shows every notification on all sinks. It fails only when every sink fails.
type Multi []Sink

func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

func (m Multi) Show(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Show(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m) {
		return errors.Join(errs...)
	}
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, n Notification) error
}

func (f SinkFunc) Name() string { return f.SinkName }

func (f SinkFunc) Show(ctx context.Context, n Notification) error { return f.Fn(ctx, n) }
