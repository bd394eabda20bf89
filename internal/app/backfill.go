package app

import (
	"context"
	"errors"
	"time"

	"stock-outage-alerts/internal/engine"
	"stock-outage-alerts/internal/storage"
)

// Backfill 按天重建 [From, To] 区间内的每日汇总。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	loc, err := a.Config.Engine.Location()
	if err != nil {
		return err
	}

	start := storage.CivilDate(opts.From.In(loc))
	end := storage.CivilDate(opts.To.In(loc))
	if end.Before(start) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	// 回填只重算汇总，不触发告警
	eng, err := a.newEngine(store, nil)
	if err != nil {
		return err
	}
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	}

	processed, empty, failed := 0, 0, 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		summary, err := a.backfillDay(ctx, store, eng, day, loc, opts.DryRun)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("date", storage.DateKey(day)).Msg("回填失败")
			continue
		}
		if summary == nil {
			empty++
			continue
		}
		processed++
		a.Logger.Info().
			Str("date", storage.DateKey(day)).
			Int("checked", summary.TotalProductsChecked).
			Int("out_of_stock", summary.TotalOutOfStock).
			Str("availability", summary.AvailabilityRate.StringFixed(2)).
			Msg("汇总已重建")
	}

	a.Logger.Info().Int("processed", processed).Int("empty", empty).Int("failed", failed).Msg("回填完成")
	if failed > 0 {
		return errors.New("部分日期回填失败，请检查日志")
	}
	return nil
}

func (a *App) backfillDay(ctx context.Context, store storage.ObservationStore, eng *engine.Engine, day time.Time, loc *time.Location, dryRun bool) (*storage.DailySummary, error) {
	if !dryRun {
		return eng.SummarizeDay(ctx, day)
	}

	y, m, d := day.Date()
	rc := engine.NewRunContext(time.Date(y, m, d, 12, 0, 0, 0, loc), loc)
	obs, err := store.ListObservations(ctx, storage.ObservationFilter{From: rc.DayStart(0), To: rc.DayStart(1)})
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, nil
	}
	summary := engine.BuildDailySummary(rc.Today(), obs)
	return &summary, nil
}
