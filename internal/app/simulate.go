package app

import (
	"context"
	"errors"
	"time"

	"stock-outage-alerts/internal/scraper"
	"stock-outage-alerts/internal/service"
	"stock-outage-alerts/internal/storage"
	"stock-outage-alerts/internal/storage/sqlite"
)

// SimulateOptions describe a synthetic outage.
type SimulateOptions struct {
	Keyword  string
	Pincode  string
	Products []string
	Days     int
}

// SimulateAlert 在内存库中构造连续缺货记录，并通过已配置的通道发出告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if len(opts.Products) == 0 {
		return errors.New("至少需要一个 --product")
	}
	if opts.Days <= 0 {
		opts.Days = 1
	}

	notifier, closeNotifier, err := a.newNotifier(ctx)
	if err != nil {
		return err
	}
	defer closeNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	store, err := sqlite.Open(sqlite.MemoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// 先写入前几天的缺货观测，使连续/高频检测器可以触发
	now := time.Now()
	var history []storage.Observation
	for day := 1; day < opts.Days; day++ {
		for _, name := range opts.Products {
			history = append(history, storage.Observation{
				ProductName: name,
				Variant:     "simulated",
				Keyword:     opts.Keyword,
				Pincode:     opts.Pincode,
				IsAvailable: false,
				CheckedAt:   now.AddDate(0, 0, -day),
			})
		}
	}
	if len(history) > 0 {
		if err := store.InsertObservations(ctx, history); err != nil {
			return err
		}
	}

	eng, err := a.newEngine(store, notifier)
	if err != nil {
		return err
	}
	svc, err := service.New(a.Config, nil, nil, store, eng, a.Logger)
	if err != nil {
		return err
	}

	records := make([]scraper.Record, 0, len(opts.Products))
	for _, name := range opts.Products {
		records = append(records, scraper.Record{ProductName: name, OutOfStockVariants: []string{"simulated"}})
	}
	outcome, err := svc.RecordSession(ctx, opts.Keyword, opts.Pincode, records)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Int("alerts", outcome.Result.Surfaced()).
		Bool("notified", outcome.Result.Notified).
		Msg("模拟告警完成")
	if !outcome.Result.Notified {
		return errors.New("告警发送失败，请检查日志")
	}
	return nil
}
