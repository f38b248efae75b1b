// Package scheduler runs the periodic maintenance jobs of the service on
// cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/holidayapi"
	"github.com/JakeFAU/specialdays/internal/metrics"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/sourcecache"
)

// Job names, used in logs and metrics.
const (
	JobSourceRefresh   = "source_refresh"
	JobHolidayPrefetch = "holiday_prefetch"
	JobMaintenance     = "maintenance"
)

// Default schedules in standard five-field cron syntax.
const (
	DefaultSourceRefreshSpec   = "0 3 * * *"
	DefaultHolidayPrefetchSpec = "0 4 * * 1"
	DefaultMaintenanceSpec     = "30 4 * * *"
)

// Config holds the job schedules. An empty spec disables that job.
type Config struct {
	SourceRefresh   string `mapstructure:"source_refresh"`
	HolidayPrefetch string `mapstructure:"holiday_prefetch"`
	Maintenance     string `mapstructure:"maintenance"`
	Timezone        string `mapstructure:"timezone"`
	PrefetchDays    int    `mapstructure:"prefetch_days"`
}

// SourceRefresher refreshes stale source caches.
type SourceRefresher interface {
	RefreshStale(ctx context.Context) map[string]sourcecache.RefreshStats
}

// HolidayPrefetcher is the holiday API client as the jobs use it.
type HolidayPrefetcher interface {
	NeedsPrefetch(ctx context.Context) bool
	WeeklyPrefetch(ctx context.Context, daysAhead int, force bool) holidayapi.PrefetchStats
	CleanupCache(ctx context.Context, retention time.Duration) (int, error)
}

// LedgerPurger drops expired announcement markers.
type LedgerPurger interface {
	Purge(ctx context.Context, now time.Time) (int, error)
}

// Deps are the collaborators the jobs drive. Nil members skip their work.
type Deps struct {
	Sources  SourceRefresher
	Holidays HolidayPrefetcher
	Ledger   LedgerPurger
	Clock    observance.Clock
	Logger   *zap.Logger
}

// Scheduler owns a cron runner and the registered jobs.
type Scheduler struct {
	cfg    Config
	deps   Deps
	cron   *cron.Cron
	logger *zap.Logger
	// ctx is handed to jobs; Run replaces it with its own context.
	ctx context.Context
}

// New validates the schedules and registers the jobs.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")

	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load schedule timezone: %w", err)
		}
		loc = l
	}

	cl := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		ctx:    context.Background(),
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{JobSourceRefresh, cfg.SourceRefresh, s.RefreshSources},
		{JobHolidayPrefetch, cfg.HolidayPrefetch, s.PrefetchHolidays},
		{JobMaintenance, cfg.Maintenance, s.Maintain},
	}
	for _, job := range jobs {
		if job.spec == "" {
			logger.Info("job disabled", zap.String("job", job.name))
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		start := time.Now()
		err := run(s.ctx)
		metrics.ObserveScheduledJob(name, err)
		if err != nil {
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.logger.Info("job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	}
}

// Entries returns how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Run starts the cron runner and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", s.Entries()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RefreshSources refreshes every stale enabled source. Failed sources are
// logged; they keep serving their previous cache.
func (s *Scheduler) RefreshSources(ctx context.Context) error {
	if s.deps.Sources == nil {
		return nil
	}
	for name, stats := range s.deps.Sources.RefreshStale(ctx) {
		if stats.Error != "" {
			s.logger.Warn("source refresh failed", zap.String("source", name), zap.String("error", stats.Error))
			continue
		}
		s.logger.Debug("source checked", zap.String("source", name), zap.Bool("cached", stats.Cached), zap.Int("fetched", stats.Fetched))
	}
	return nil
}

// PrefetchHolidays fills the holiday cache for the coming days when the
// last prefetch is stale.
func (s *Scheduler) PrefetchHolidays(ctx context.Context) error {
	if s.deps.Holidays == nil {
		return nil
	}
	if !s.deps.Holidays.NeedsPrefetch(ctx) {
		s.logger.Debug("holiday prefetch not due")
		return nil
	}
	stats := s.deps.Holidays.WeeklyPrefetch(ctx, s.cfg.PrefetchDays, false)
	s.logger.Info("holiday prefetch",
		zap.Int("fetched", stats.Fetched),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Bool("quota_exceeded", stats.QuotaExceeded),
	)
	if stats.Error != "" && stats.Fetched == 0 && stats.Skipped == 0 {
		return fmt.Errorf("holiday prefetch: %s", stats.Error)
	}
	return nil
}

// Maintain purges expired ledger markers and old holiday cache entries.
func (s *Scheduler) Maintain(ctx context.Context) error {
	if s.deps.Ledger != nil {
		now := time.Now()
		if s.deps.Clock != nil {
			now = s.deps.Clock.Now()
		}
		n, err := s.deps.Ledger.Purge(ctx, now)
		if err != nil {
			return fmt.Errorf("purge ledger: %w", err)
		}
		s.logger.Info("ledger purged", zap.Int("removed", n))
	}
	if s.deps.Holidays != nil {
		n, err := s.deps.Holidays.CleanupCache(ctx, 0)
		if err != nil {
			return fmt.Errorf("cleanup holiday cache: %w", err)
		}
		s.logger.Info("holiday cache cleaned", zap.Int("removed", n))
	}
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
