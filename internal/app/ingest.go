package app

import (
	"context"
	"fmt"

	"stock-outage-alerts/internal/scraper"
)

// IngestOptions point at a recorded scrape result.
type IngestOptions struct {
	Path    string
	Keyword string
	Pincode string
}

// Ingest records a scrape result file as a session and runs the alert
// engine on it, exactly as a scheduled tick would.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	if opts.Keyword == "" || opts.Pincode == "" {
		return fmt.Errorf("--keyword and --pincode are required")
	}
	records, err := scraper.NewFile(opts.Path).Scrape(ctx, opts.Keyword, opts.Pincode)
	if err != nil {
		return err
	}

	w, err := a.buildWiring(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer w.closeAll()

	outcome, err := w.service.RecordSession(ctx, opts.Keyword, opts.Pincode, records)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "session %d: %d products, %d out of stock, %d alerts surfaced\n",
		outcome.Session.ID, outcome.Session.TotalProducts, outcome.Session.OutOfStockCount, outcome.Result.Surfaced())
	return nil
}
