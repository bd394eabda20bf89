package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"stock-outage-alerts/internal/storage"
)

// ShowAlerts prints alerts matching opts.
func (a *App) ShowAlerts(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := storage.AlertFilter{
		Keyword:     opts.Keyword,
		Pincode:     opts.Pincode,
		Type:        storage.AlertType(strings.ToUpper(opts.Type)),
		Significant: opts.Significant,
		Limit:       opts.Limit,
	}
	switch opts.Status {
	case "", "all":
	case "active":
		resolved := false
		filter.Resolved = &resolved
	case "resolved":
		resolved := true
		filter.Resolved = &resolved
	default:
		return fmt.Errorf("--status must be active, resolved or all")
	}

	alerts, err := store.ListAlerts(ctx, filter)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tType\tSeverity\tProduct\tKeyword@Pincode\tMessage\tUpdated (UTC)\tStatus")
	for _, alert := range alerts {
		status := "active"
		if alert.IsResolved {
			status = "resolved"
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s@%s\t%s\t%s\t%s\n",
			alert.ID,
			alert.Key.Type,
			alert.Severity,
			alert.Key.Label(),
			alert.Key.Keyword,
			alert.Key.Pincode,
			sanitizeInline(alert.Message),
			alert.UpdatedAt.UTC().Format(time.RFC3339),
			status,
		)
	}
	return writer.Flush()
}

// ResolveAlert marks one alert resolved.
func (a *App) ResolveAlert(ctx context.Context, id int64) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	alert, err := store.ResolveAlert(ctx, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("resolve alert %d: %w", id, err)
	}
	fmt.Fprintf(a.Out, "alert %d (%s) resolved\n", alert.ID, alert.Key.Label())
	return nil
}

// ShowSummaries prints the most recent daily summaries.
func (a *App) ShowSummaries(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.ListDailySummaries(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(a.Out, "no summaries found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tChecked\tOut of stock\tAvailability%\tMost problematic")
	for _, s := range summaries {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%s\t%s\n",
			storage.DateKey(s.Date),
			s.TotalProductsChecked,
			s.TotalOutOfStock,
			s.AvailabilityRate.StringFixed(2),
			strings.Join(s.MostProblematicProducts, "; "),
		)
	}
	return writer.Flush()
}

// ShowSessions prints recent scrape sessions.
func (a *App) ShowSessions(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListRecentSessions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(a.Out, "no sessions found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTime (UTC)\tKeyword\tPincode\tProducts\tOut of stock\tAvailability%")
	for _, s := range sessions {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID,
			s.Timestamp.UTC().Format(time.RFC3339),
			s.Keyword,
			s.Pincode,
			s.TotalProducts,
			s.OutOfStockCount,
			s.AvailabilityRate.StringFixed(2),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
