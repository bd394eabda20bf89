package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stock-outage-alerts/internal/alerting"
	"stock-outage-alerts/internal/analytics"
	"stock-outage-alerts/internal/api"
	"stock-outage-alerts/internal/cache"
	"stock-outage-alerts/internal/config"
	"stock-outage-alerts/internal/engine"
	"stock-outage-alerts/internal/scheduler"
	"stock-outage-alerts/internal/scraper"
	"stock-outage-alerts/internal/service"
	"stock-outage-alerts/internal/storage"
	"stock-outage-alerts/internal/storage/sqlite"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) openStore(ctx context.Context) (storage.Repository, error) {
	db := a.Config.Database
	switch db.Driver {
	case "postgres":
		pool, err := storage.NewPool(ctx, db)
		if err != nil {
			return nil, err
		}
		if db.AutoMigrate {
			if err := storage.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return storage.NewStore(pool), nil
	case "sqlite":
		store, err := sqlite.Open(db.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.Logger.Debug().Str("path", store.DBPath()).Msg("sqlite store opened")
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

// newNotifier fans out to every enabled channel listed in alerting.channels.
// It returns a nil Notifier when alerting is off or nothing is enabled.
func (a *App) newNotifier(ctx context.Context) (alerting.Notifier, func(), error) {
	cfg := a.Config.Alerting
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}

	multi := alerting.NewMultiNotifier(a.Logger)
	var closers []func()
	for _, channel := range cfg.Channels {
		switch channel {
		case "telegram":
			if !cfg.Telegram.Enabled {
				continue
			}
			tg := cfg.Telegram
			multi.Add(channel, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, cfg.Timeout, a.Logger))
		case "email":
			if !cfg.Email.Enabled {
				continue
			}
			registry, err := a.newEmailRegistry(ctx)
			if err != nil {
				return nil, noop, err
			}
			multi.Add(channel, alerting.NewEmailNotifier(registry, cfg.Email.From, cfg.Email.To, a.Logger))
		case "kafka":
			if !cfg.Kafka.Enabled {
				continue
			}
			kn := alerting.NewKafkaNotifier(alerting.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), a.Logger)
			closers = append(closers, func() {
				if err := kn.Close(); err != nil {
					a.Logger.Warn().Err(err).Msg("close kafka writer")
				}
			})
			multi.Add(channel, kn)
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alerting channel ignored")
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if multi.Len() == 0 {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
		return nil, closeAll, nil
	}
	return multi, closeAll, nil
}

func (a *App) newEmailRegistry(ctx context.Context) (*alerting.ProviderRegistry, error) {
	cfg := a.Config.Alerting.Email
	registry := alerting.NewProviderRegistry(a.Logger)
	registry.Register(alerting.NewResendProvider(cfg.ResendAPIKey))

	// an SES provider without credentials stays registered but unconfigured
	ses, err := alerting.NewSESProvider(ctx, cfg.SESRegion)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("SES provider unavailable")
	}
	registry.Register(ses)

	if err := registry.SetPrimary(cfg.Provider); err != nil {
		return nil, err
	}
	if err := registry.SetFallback(cfg.Fallback...); err != nil {
		return nil, err
	}
	return registry, nil
}

func (a *App) newScraper() scraper.Scraper {
	if a.Config.Scraper.ReplayFile != "" {
		a.Logger.Info().Str("file", a.Config.Scraper.ReplayFile).Msg("replaying recorded scrape results")
		return scraper.NewFile(a.Config.Scraper.ReplayFile)
	}
	return scraper.NewHTTP(scraper.HTTPOptions{
		BaseURL:   a.Config.Scraper.BaseURL,
		Timeout:   a.Config.Scraper.RequestTimeout,
		UserAgent: a.Config.Scraper.UserAgent,
	}, a.Logger)
}

func (a *App) newEngine(store engine.Store, notifier alerting.Notifier) (*engine.Engine, error) {
	loc, err := a.Config.Engine.Location()
	if err != nil {
		return nil, err
	}
	return engine.New(store, notifier, engine.OptionsFromConfig(a.Config), loc, a.Logger), nil
}

func (a *App) newAnalytics(store storage.Repository) (*analytics.Analytics, error) {
	loc, err := a.Config.Engine.Location()
	if err != nil {
		return nil, err
	}
	return analytics.New(store, store, analytics.OptionsFromConfig(a.Config.Analytics), loc, a.Logger), nil
}

// newCache returns a nil cache when caching is disabled or Redis is down.
func (a *App) newCache(ctx context.Context) (*cache.ForecastCache, func()) {
	if !a.Config.Cache.Enabled {
		return nil, func() {}
	}
	client, err := cache.Connect(ctx, a.Config.Cache)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; analytics cache disabled")
		return nil, func() {}
	}
	return cache.New(client, a.Config.Cache.TTL, a.Logger), func() { client.Close() }
}

// wiring bundles what the long-running commands share.
type wiring struct {
	store    storage.Repository
	service  *service.Service
	closeAll func()
}

func (a *App) buildWiring(ctx context.Context, sched *scheduler.Scheduler, scr scraper.Scraper) (*wiring, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	notifier, closeNotifier, err := a.newNotifier(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	closeAll := func() {
		closeNotifier()
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close store")
		}
	}

	eng, err := a.newEngine(store, notifier)
	if err != nil {
		closeAll()
		return nil, err
	}
	svc, err := service.New(a.Config, sched, scr, store, eng, a.Logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	return &wiring{store: store, service: svc, closeAll: closeAll}, nil
}

func (a *App) newScheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		RunOnStart:    a.Config.Scheduler.RunOnStart,
	}, a.Logger)
}

// Run executes the long-running scrape and alert service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.buildWiring(ctx, a.newScheduler(), a.newScraper())
	if err != nil {
		return err
	}
	defer rt.closeAll()

	if len(rt.service.Targets()) == 0 {
		return errors.New("scraper.targets is empty; nothing to monitor")
	}

	a.Logger.Info().Int("targets", len(rt.service.Targets())).Msg("starting monitoring service")
	err = rt.service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ServeOptions configure the serve command.
type ServeOptions struct {
	Addr          string
	WithScheduler bool
}

// Serve exposes the HTTP API, optionally running the scrape loop alongside.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var sched *scheduler.Scheduler
	if opts.WithScheduler {
		sched = a.newScheduler()
	}
	rt, err := a.buildWiring(ctx, sched, a.newScraper())
	if err != nil {
		return err
	}
	defer rt.closeAll()

	an, err := a.newAnalytics(rt.store)
	if err != nil {
		return err
	}
	fc, closeCache := a.newCache(ctx)
	defer closeCache()

	addr := opts.Addr
	if addr == "" {
		addr = a.Config.API.Addr
	}
	handler := api.NewRouter(api.Deps{
		Store:     rt.store,
		Analytics: an,
		Recorder:  rt.service,
		Cache:     fc,
		Timeout:   a.Config.API.RequestTimeout,
		Logger:    a.Logger,
	})

	errCh := make(chan error, 1)
	if opts.WithScheduler && len(rt.service.Targets()) > 0 {
		go func() {
			if err := rt.service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
				cancel()
			}
		}()
	}

	if err := api.Serve(ctx, addr, handler, a.Logger); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	default:
	}
	a.Logger.Info().Msg("api stopped")
	return nil
}

// Migrate opens the configured store, which applies pending migrations.
func (a *App) Migrate(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("schema up to date")
	return nil
}

// ExportOptions hold parameters for exporting the daily outage series.
type ExportOptions struct {
	Keyword   string
	Pincode   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Forecast  int
}

// ShowOptions configure the list commands.
type ShowOptions struct {
	Limit       int
	Keyword     string
	Pincode     string
	Type        string
	Status      string
	Significant bool
}

// BackfillOptions configure the summary backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
