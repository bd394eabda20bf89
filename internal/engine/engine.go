package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stock-outage-alerts/internal/alerting"
	"stock-outage-alerts/internal/config"
	"stock-outage-alerts/internal/storage"
)

// Options tunes the detectors.
type Options struct {
	WindowDays              int
	ConsecutiveMinDays      int
	ConsecutiveCriticalDays int
	FrequentMinOutages      int
	SentinelVariants        []string
	DashboardURL            string
}

// DefaultOptions mirrors the stock thresholds.
func DefaultOptions() Options {
	return Options{
		WindowDays:              7,
		ConsecutiveMinDays:      2,
		ConsecutiveCriticalDays: 3,
		FrequentMinOutages:      3,
		SentinelVariants:        DefaultSentinelVariants,
	}
}

// OptionsFromConfig builds Options from the engine and alerting sections.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		WindowDays:              cfg.Engine.WindowDays,
		ConsecutiveMinDays:      cfg.Engine.ConsecutiveMinDays,
		ConsecutiveCriticalDays: cfg.Engine.ConsecutiveCriticalDays,
		FrequentMinOutages:      cfg.Engine.FrequentMinOutages,
		SentinelVariants:        cfg.Engine.SentinelVariants,
		DashboardURL:            cfg.Alerting.DashboardURL,
	}
	return opts.withDefaults()
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.WindowDays <= 0 {
		o.WindowDays = def.WindowDays
	}
	if o.ConsecutiveMinDays <= 0 {
		o.ConsecutiveMinDays = def.ConsecutiveMinDays
	}
	if o.ConsecutiveCriticalDays < o.ConsecutiveMinDays {
		o.ConsecutiveCriticalDays = def.ConsecutiveCriticalDays
	}
	if o.FrequentMinOutages <= 0 {
		o.FrequentMinOutages = def.FrequentMinOutages
	}
	if o.SentinelVariants == nil {
		o.SentinelVariants = def.SentinelVariants
	}
	return o
}

// Store is everything the engine persists to.
type Store interface {
	storage.ObservationStore
	storage.AlertStore
	storage.SummaryStore
}

// Result reports what one ProcessSession call did.
type Result struct {
	SessionID    int64                 `json:"session_id"`
	Observations int                   `json:"observations"`
	Daily        []storage.Alert       `json:"daily"`
	Consecutive  []storage.Alert       `json:"consecutive"`
	Frequent     []storage.Alert       `json:"frequent"`
	Summary      *storage.DailySummary `json:"summary,omitempty"`
	Notified     bool                  `json:"notified"`
}

// Surfaced counts alerts created or materially updated in this run.
func (r Result) Surfaced() int {
	return len(r.Daily) + len(r.Consecutive) + len(r.Frequent)
}

// Engine turns scrape sessions into observations, alerts and daily summaries.
type Engine struct {
	observations storage.ObservationStore
	alerts       storage.AlertStore
	summaries    storage.SummaryStore
	notifier     alerting.Notifier
	opts         Options
	location     *time.Location
	now          func() time.Time
	logger       zerolog.Logger
}

// New constructs the engine. notifier may be nil.
func New(store Store, notifier alerting.Notifier, opts Options, loc *time.Location, logger zerolog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		observations: store,
		alerts:       store,
		summaries:    store,
		notifier:     notifier,
		opts:         opts.withDefaults(),
		location:     loc,
		now:          time.Now,
		logger:       logger.With().Str("component", "engine").Logger(),
	}
}

// RunContext snapshots the engine clock.
func (e *Engine) RunContext() RunContext {
	return NewRunContext(e.now(), e.location)
}

// ProcessSession 记录观测、运行三类检测、发送汇总通知并刷新当日汇总。
// Only persistence errors abort the run.
func (e *Engine) ProcessSession(ctx context.Context, rc RunContext, session storage.ScrapeSession) (Result, error) {
	result := Result{SessionID: session.ID}
	logger := e.logger.With().
		Int64("session_id", session.ID).
		Str("keyword", session.Keyword).
		Str("pincode", session.Pincode).
		Logger()

	obs := ExtractObservations(session, e.opts.SentinelVariants, rc.Now)
	if len(obs) > 0 {
		if err := e.observations.InsertObservations(ctx, obs); err != nil {
			return result, fmt.Errorf("insert observations: %w", err)
		}
	}
	result.Observations = len(obs)

	sc := scope{Keyword: session.Keyword, Pincode: session.Pincode}
	detectors := []struct {
		name   string
		detect func(context.Context, RunContext, scope) ([]candidate, error)
		into   *[]storage.Alert
	}{
		{"daily", e.detectDaily, &result.Daily},
		{"consecutive", e.detectConsecutive, &result.Consecutive},
		{"frequent", e.detectFrequent, &result.Frequent},
	}
	for _, d := range detectors {
		candidates, err := d.detect(ctx, rc, sc)
		if err != nil {
			return result, fmt.Errorf("%s detector: %w", d.name, err)
		}
		for _, c := range candidates {
			alert, wrote, err := e.upsert(ctx, rc, c)
			if err != nil {
				return result, fmt.Errorf("upsert %s alert %s: %w", d.name, c.Key, err)
			}
			if wrote {
				*d.into = append(*d.into, alert)
			}
		}
	}

	if result.Surfaced() > 0 {
		logger.Info().
			Int("daily", len(result.Daily)).
			Int("consecutive", len(result.Consecutive)).
			Int("frequent", len(result.Frequent)).
			Msg("alerts surfaced")
		result.Notified = e.notify(ctx, rc, session, result, logger)
	}

	summary, err := e.UpdateDailySummary(ctx, rc)
	if err != nil {
		return result, err
	}
	result.Summary = summary
	return result, nil
}

// upsert applies the natural-key read-modify-write. The returned flag is true
// only when a row was created or its metrics changed.
func (e *Engine) upsert(ctx context.Context, rc RunContext, c candidate) (storage.Alert, bool, error) {
	return e.alerts.UpsertAlert(ctx, c.Key, func(current *storage.Alert) (*storage.Alert, error) {
		if current == nil {
			return &storage.Alert{
				Key:       c.Key,
				Severity:  c.Severity,
				Metrics:   c.Metrics,
				Message:   c.Message,
				CreatedAt: rc.Now,
				UpdatedAt: rc.Now,
			}, nil
		}
		if current.Metrics != nil && current.Metrics.Equal(c.Metrics) {
			return nil, nil
		}
		next := *current
		next.Metrics = c.Metrics
		next.Message = c.Message
		next.Severity = c.Severity
		// 条件再次出现时重新打开已解决的告警
		next.IsResolved = false
		next.ResolvedAt = nil
		next.UpdatedAt = rc.Now
		return &next, nil
	})
}

func (e *Engine) notify(ctx context.Context, rc RunContext, session storage.ScrapeSession, result Result, logger zerolog.Logger) bool {
	if e.notifier == nil {
		return false
	}
	note := alerting.Notification{
		ID:           uuid.NewString(),
		Session:      session,
		Daily:        result.Daily,
		Consecutive:  result.Consecutive,
		Frequent:     result.Frequent,
		GeneratedAt:  rc.Now,
		DashboardURL: e.opts.DashboardURL,
	}
	if err := e.notifier.Notify(ctx, note); err != nil {
		logger.Error().Err(err).Int("alerts", note.Total()).Msg("failed to dispatch consolidated alert")
		return false
	}
	return true
}
