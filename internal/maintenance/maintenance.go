// Package maintenance runs periodic housekeeping for the daemon, currently
// pruning old delivery history.
package maintenance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jtechpush/internal/storage"
	logx "jtechpush/pkg/logx"
)

const (
	DefaultSchedule  = "@hourly"
	DefaultRetention = 7 * 24 * time.Hour
)

type Config struct {
	Schedule  string
	Retention time.Duration
}

// Service triggers history pruning on a cron schedule.
type Service struct {
	log    logx.Logger
	store  storage.Store
	parser cron.Parser
	now    func() time.Time

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		store:  store,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
		cfg:    withDefaults(cfg),
	}
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return cfg
}

// Start begins triggering. It is a no-op without a store or when already started.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || s.store == nil {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { _, _ = s.Prune(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance started", logx.String("schedule", s.cfg.Schedule), logx.Duration("retention", s.cfg.Retention))
	return nil
}

// Apply swaps the schedule and retention, restarting the cron if it runs.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	<-s.c.Stop().Done()
	s.c = nil
	return s.startLocked(ctx)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Prune removes history older than the retention window.
func (s *Service) Prune(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, storage.ErrDisabled
	}
	s.mu.Lock()
	retention := s.cfg.Retention
	s.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := s.store.PruneDeliveries(pctx, s.now().Add(-retention))
	if err != nil {
		s.log.Warn("history prune failed", logx.Err(err))
		return 0, err
	}
	if n > 0 {
		s.log.Info("history pruned", logx.Int("removed", n))
	}
	return n, nil
}
