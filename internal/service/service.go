package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stock-outage-alerts/internal/config"
	"stock-outage-alerts/internal/engine"
	"stock-outage-alerts/internal/scheduler"
	"stock-outage-alerts/internal/scraper"
	"stock-outage-alerts/internal/storage"
)

// Outcome is the persisted session plus what the engine did with it.
type Outcome struct {
	Session storage.ScrapeSession `json:"session"`
	Result  engine.Result         `json:"result"`
}

// Service orchestrates scraping, session persistence and alert processing.
type Service struct {
	scheduler *scheduler.Scheduler
	scraper   scraper.Scraper
	sessions  storage.SessionStore
	engine    *engine.Engine
	logger    zerolog.Logger

	targets []config.Target
	siteURL string
	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the scrape service. sched and scr may be nil for callers
// that only record sessions (ingest, API).
func New(cfg *config.Config, sched *scheduler.Scheduler, scr scraper.Scraper, sessions storage.SessionStore, eng *engine.Engine, logger zerolog.Logger) (*Service, error) {
	targets, err := cfg.Scraper.ParseTargets()
	if err != nil {
		return nil, err
	}

	var locker storage.AdvisoryLocker
	if l, ok := sessions.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		scraper:   scr,
		sessions:  sessions,
		engine:    eng,
		logger:    logger.With().Str("component", "service").Logger(),
		targets:   targets,
		siteURL:   cfg.Scraper.SiteURL,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}, nil
}

// Targets returns the configured scrape targets.
func (s *Service) Targets() []config.Target {
	return s.targets
}

// Run begins the scheduled scrape loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if len(s.targets) == 0 {
		return fmt.Errorf("no scraper.targets configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行一个调度周期: 依次抓取每个目标。
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var errs []error
	for _, target := range s.targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.RunTarget(ctx, target); err != nil {
			s.logger.Error().Err(err).Str("target", target.String()).Msg("failed to record session")
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

// RunTarget scrapes one keyword@pincode and records the session. A scraper
// failure or empty result is recorded as a single sentinel error product.
func (s *Service) RunTarget(ctx context.Context, target config.Target) (Outcome, error) {
	if s.scraper == nil {
		return Outcome{}, fmt.Errorf("scraper not configured")
	}
	records, err := s.scraper.Scrape(ctx, target.Keyword, target.Pincode)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Str("keyword", target.Keyword).Str("pincode", target.Pincode).Msg("抓取失败, 记录错误占位商品")
		records = []scraper.Record{scraper.ErrorRecord(target.Keyword, s.siteURL)}
	case len(records) == 0:
		s.logger.Warn().Str("keyword", target.Keyword).Str("pincode", target.Pincode).Msg("抓取结果为空, 记录错误占位商品")
		records = []scraper.Record{scraper.ErrorRecord(target.Keyword, s.siteURL)}
	}
	return s.RecordSession(ctx, target.Keyword, target.Pincode, records)
}

// RecordSession persists records as a session and runs the alert engine on it.
func (s *Service) RecordSession(ctx context.Context, keyword, pincode string, records []scraper.Record) (Outcome, error) {
	rc := s.engine.RunContext()
	session := BuildSession(keyword, pincode, records, rc.Now)

	created, err := s.sessions.CreateSession(ctx, session)
	if err != nil {
		return Outcome{}, fmt.Errorf("create session: %w", err)
	}

	result, err := s.engine.ProcessSession(ctx, rc, created)
	if err != nil {
		return Outcome{Session: created}, fmt.Errorf("process session %d: %w", created.ID, err)
	}

	s.logger.Info().
		Int64("session_id", created.ID).
		Str("keyword", keyword).
		Str("pincode", pincode).
		Int("products", created.TotalProducts).
		Int("out_of_stock", created.OutOfStockCount).
		Str("availability_rate", created.AvailabilityRate.StringFixed(2)).
		Int("observations", result.Observations).
		Int("alerts", result.Surfaced()).
		Msg("session recorded")
	return Outcome{Session: created, Result: result}, nil
}

// BuildSession converts scraped records into an unsaved session with its
// product counts and availability rate filled in.
func BuildSession(keyword, pincode string, records []scraper.Record, at time.Time) storage.ScrapeSession {
	session := storage.ScrapeSession{
		RunID:     uuid.NewString(),
		Keyword:   keyword,
		Pincode:   pincode,
		Timestamp: at,
		Products:  make([]storage.Product, 0, len(records)),
	}
	for _, r := range records {
		p := r.ToProduct()
		if p.HasOutOfStock() {
			session.OutOfStockCount++
		}
		session.Products = append(session.Products, p)
	}
	session.TotalProducts = len(session.Products)
	session.AvailabilityRate = engine.AvailabilityRate(session.TotalProducts, session.OutOfStockCount)
	return session
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
