package app

import (
	"context"
	"fmt"
	"time"

	logx "jtechpush/pkg/logx"
)

// Stop shuts the daemon down in dependency order: intake first, then delivery,
// then persistence. Each step is bounded so one component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	for _, st := range a.stopSteps() {
		step(st.name, st.max, st.fn)
	}

	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	a.life.Release(ctx)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

type stopStep struct {
	name string
	max  time.Duration
	fn   func(context.Context) error
}

// stopSteps lists the shutdown order. Intake stops first so no new messages
// arrive while the presenter drains into sinks that are still up.
func (a *App) stopSteps() []stopStep {
	return []stopStep{
		{"subscription", 3 * time.Second, a.subs.Stop},
		{"presenter", 3 * time.Second, func(c context.Context) error { a.presenter.Stop(c); return nil }},
		{"telegram", 2 * time.Second, func(c context.Context) error {
			if a.tg != nil {
				a.tg.Stop(c)
			}
			return nil
		}},
		{"maintenance", time.Second, func(c context.Context) error { a.maint.Stop(c); return nil }},
		{"debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil }},
		{"desktop", time.Second, func(context.Context) error {
			if a.desktop != nil {
				return a.desktop.Close()
			}
			return nil
		}},
		{"storage", time.Second, func(context.Context) error {
			if a.store != nil {
				return a.store.Close()
			}
			return nil
		}},
	}
}
