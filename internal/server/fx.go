// Package server builds the application graph and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/aggregate"
	"github.com/JakeFAU/specialdays/internal/announce"
	"github.com/JakeFAU/specialdays/internal/api"
	"github.com/JakeFAU/specialdays/internal/clock/system"
	"github.com/JakeFAU/specialdays/internal/config"
	"github.com/JakeFAU/specialdays/internal/custom"
	"github.com/JakeFAU/specialdays/internal/dedup"
	"github.com/JakeFAU/specialdays/internal/extract"
	"github.com/JakeFAU/specialdays/internal/extract/detector"
	"github.com/JakeFAU/specialdays/internal/extract/structured"
	collyfetcher "github.com/JakeFAU/specialdays/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/specialdays/internal/fetcher/headless"
	"github.com/JakeFAU/specialdays/internal/holidayapi"
	"github.com/JakeFAU/specialdays/internal/id/uuid"
	"github.com/JakeFAU/specialdays/internal/logging"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/policy/ratelimit"
	"github.com/JakeFAU/specialdays/internal/scheduler"
	"github.com/JakeFAU/specialdays/internal/sourcecache"
	"github.com/JakeFAU/specialdays/internal/storage/local"
	pgstore "github.com/JakeFAU/specialdays/internal/storage/postgres"
)

// App contains the application's dependencies. The exported members are
// what the CLI commands drive directly.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Clock     *system.Clock
	Store     *local.Store
	Sources   *sourcecache.Registry
	Holidays  *holidayapi.Client
	Custom    observance.CustomStore
	Service   *aggregate.Service
	Ledger    *announce.Ledger
	Modes     *announce.Modes
	Scheduler *scheduler.Scheduler

	apiServer *api.Server
	headless  *headlessfetcher.Fetcher
	pgCustom  *pgstore.CustomStore
	closeOnce sync.Once
}

// Build creates the application's dependencies. Nothing touches the network
// until Run or a command asks for it.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	app := &App{
		Config: cfg,
		Logger: logger,
		Clock:  system.New(loc),
	}
	logger.Info("building application dependencies",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("server_port", cfg.Server.Port),
	)

	app.Store, err = local.New(local.Config{BaseDir: cfg.Storage.DataDir, LockTimeout: cfg.Storage.LockTimeout})
	if err != nil {
		return nil, fmt.Errorf("local store init failed: %w", err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTPTimeout(),
	})
	logger.Info("using colly fetcher", zap.String("user_agent", cfg.HTTP.UserAgent))
	apiFetcher := newAPIFetcher(cfg)

	renderer := app.setupRenderer()
	pipeline := extract.NewPipeline(fetcher, renderer, setupExtractor(app, apiFetcher), logger)
	if app.headless != nil {
		pipeline.WithRenderDetector(detector.NewHeuristic(cfg.Headless.MinTextBytes))
	}
	pacer := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RPS, Burst: cfg.HTTP.Burst})
	runner := pacedRunner{pacer: pacer, runner: pipeline}

	app.Sources = sourcecache.NewRegistry(cfg.SourceConfigs(), func(sc sourcecache.SourceConfig) *sourcecache.Cache {
		return sourcecache.New(sc.Source, sc.TTL, app.Store, runner, app.Clock, logger)
	})
	logger.Info("source registry ready", zap.Strings("sources", app.Sources.Names()))

	var holidays aggregate.HolidaySource
	if cfg.HolidayAPI.Enabled {
		app.Holidays = holidayapi.New(
			cfg.HolidayAPI.Config,
			apiFetcher,
			app.Store,
			ratelimit.New(ratelimit.Config{RPS: cfg.HolidayAPI.RPS, Burst: 1}),
			app.Clock,
			logger,
		)
		holidays = app.Holidays
		logger.Info("holiday api enabled",
			zap.String("country", cfg.HolidayAPI.Country),
			zap.Int("monthly_limit", cfg.HolidayAPI.MonthlyLimit),
		)
	} else {
		logger.Info("holiday api disabled")
	}

	if err := app.setupCustom(ctx); err != nil {
		return nil, err
	}

	categories, err := cfg.CategoryDefaults()
	if err != nil {
		return nil, err
	}
	app.Service = aggregate.New(aggregate.Options{
		Sources:    app.Sources,
		Holidays:   holidays,
		Custom:     app.Custom,
		Dedup:      setupDedup(cfg, logger),
		Store:      app.Store,
		Clock:      app.Clock,
		Logger:     logger,
		Categories: categories,
	})

	modeCfg, err := cfg.ModeConfig()
	if err != nil {
		return nil, err
	}
	app.Ledger = announce.NewLedger(app.Store, app.Clock, cfg.LedgerRetention(), logger)
	app.Modes = announce.NewModes(app.Store, app.Clock, modeCfg, logger)

	deps := scheduler.Deps{
		Sources: app.Sources,
		Ledger:  app.Ledger,
		Clock:   app.Clock,
		Logger:  logger,
	}
	if app.Holidays != nil {
		deps.Holidays = app.Holidays
	}
	app.Scheduler, err = scheduler.New(cfg.Schedule, deps)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	apiDeps := api.Deps{
		Observances: app.Service,
		Sources:     app.Sources,
		Custom:      app.Custom,
		Modes:       app.Modes,
		Ledger:      app.Ledger,
		IDs:         uuid.New(""),
		Clock:       app.Clock,
	}
	if app.Holidays != nil {
		apiDeps.Holidays = app.Holidays
	}
	app.apiServer = api.NewServer(apiDeps, cfg, logger.Named("api"))

	return app, nil
}

// newAPIFetcher builds the fetcher for keyed JSON endpoints (holiday API and
// structured extraction). robots.txt governs crawled pages, so it is never
// consulted here.
func newAPIFetcher(cfg config.Config) *collyfetcher.Fetcher {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: false,
		Timeout:       cfg.HTTPTimeout(),
	})
}

func (a *App) setupRenderer() observance.Fetcher {
	if !a.Config.Headless.Enabled {
		a.Logger.Info("headless rendering disabled")
		return headlessfetcher.NewNoop()
	}
	f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.Config.Headless.MaxParallel,
		UserAgent:         a.Config.HTTP.UserAgent,
		NavigationTimeout: a.Config.Headless.NavigationTimeout,
		WaitSelector:      a.Config.Headless.WaitSelector,
		SettleDelay:       a.Config.Headless.SettleDelay,
	})
	if err != nil {
		a.Logger.Warn("headless fetcher init failed, using static fetcher", zap.Error(err))
		return nil
	}
	a.headless = f
	a.Logger.Info("using headless fetcher", zap.Int("max_parallel", a.Config.Headless.MaxParallel))
	return f
}

func setupExtractor(app *App, fetcher observance.Fetcher) extract.Extractor {
	if app.Config.Extraction.Endpoint == "" {
		app.Logger.Info("structured extraction not configured, using html parsers only")
		return nil
	}
	app.Logger.Info("structured extraction enabled", zap.String("endpoint", app.Config.Extraction.Endpoint))
	return structured.New(app.Config.Extraction, fetcher)
}

func setupDedup(cfg config.Config, logger *zap.Logger) *dedup.Engine {
	opts := dedup.DefaultOptions()
	if cfg.Dedup.ContainmentRatio > 0 {
		opts.ContainmentRatio = cfg.Dedup.ContainmentRatio
	}
	priorities := dedup.DefaultPriorities()
	for name, p := range cfg.Dedup.Priorities {
		priorities[name] = p
	}
	return dedup.New(logger, opts, priorities)
}

func (a *App) setupCustom(ctx context.Context) error {
	if a.Config.Storage.Backend != config.BackendPostgres {
		a.Custom = custom.NewFileStore(a.Config.Custom, a.Store, a.Clock, a.Logger)
		a.Logger.Info("custom observances in yaml file", zap.String("file", a.Config.Custom.File))
		return nil
	}
	store, err := pgstore.NewCustomStore(ctx, a.Config.DB)
	if err != nil {
		return fmt.Errorf("custom store init failed: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return fmt.Errorf("custom store schema: %w", err)
	}
	a.pgCustom = store
	a.Custom = store
	a.Logger.Info("custom observances in postgres", zap.String("table", a.Config.DB.Table))
	return nil
}

// pacedRunner throttles source extractions per host before handing them to
// the pipeline.
type pacedRunner struct {
	pacer  *ratelimit.Limiter
	runner sourcecache.Runner
}

func (p pacedRunner) Run(ctx context.Context, src extract.Source) extract.Result {
	if err := p.pacer.Wait(ctx, src.URL); err != nil {
		return extract.Result{Err: &extract.ExtractionError{Source: src.Name, Stage: "rate_limit", Err: err}}
	}
	return p.runner.Run(ctx, src)
}

// Run warms the caches, starts the scheduler and serves HTTP until ctx is
// cancelled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.Logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		stats := a.Service.Initialize(ctx)
		a.Logger.Info("initial source load finished", zap.Int("sources", len(stats)))
	}()

	go func() {
		a.Logger.Info("scheduler started", zap.Int("jobs", a.Scheduler.Entries()))
		a.Scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.Logger.Info("http server started", zap.Int("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.Logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()
	return nil
}

// Close releases the browser, database pool and logger. It is safe to call
// more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.headless != nil {
			a.headless.Close()
		}
		if a.pgCustom != nil {
			a.pgCustom.Close()
		}
		a.Logger.Info("shutdown complete")
		// Sync fails on stderr under some terminals.
		_ = a.Logger.Sync()
	})
}
