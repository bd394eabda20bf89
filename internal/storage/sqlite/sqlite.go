// Package sqlite is the embedded single-file storage backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"stock-outage-alerts/internal/storage"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const alertColumns = `id, product_name, variant, keyword, pincode, alert_type, severity,
	outage_count_today, total_checks_today, consecutive_days, weekly_outages,
	message, is_resolved, resolved_at, created_at, updated_at`

const summaryColumns = `summary_date, total_products_checked, total_out_of_stock,
	availability_rate, most_problematic_products, updated_at`

const sessionColumns = `id, run_id, keyword, pincode, scraped_at, total_products,
	out_of_stock_count, availability_rate`

// Store implements storage.Repository on SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (or creates) the database and runs migrations.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != MemoryPath {
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// single writer; an in-memory database also lives on exactly one connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// DBPath returns the database file path.
func (s *Store) DBPath() string { return s.dbPath }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func placeholder(int) string { return "?" }

func unixNano(t time.Time) any { return t.UTC().UnixNano() }

func fromUnixNano(v int64) time.Time { return time.Unix(0, v).UTC() }

// CreateSession stores a session and its products in one transaction.
func (s *Store) CreateSession(ctx context.Context, session storage.ScrapeSession) (storage.ScrapeSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.ScrapeSession{}, fmt.Errorf("begin session tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO scrape_sessions (run_id, keyword, pincode, scraped_at, total_products, out_of_stock_count, availability_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.RunID, session.Keyword, session.Pincode, unixNano(session.Timestamp),
		session.TotalProducts, session.OutOfStockCount, session.AvailabilityRate.String())
	if err != nil {
		return storage.ScrapeSession{}, fmt.Errorf("insert session: %w", err)
	}
	if session.ID, err = res.LastInsertId(); err != nil {
		return storage.ScrapeSession{}, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO products (session_id, product_name, available_variants, out_of_stock_variants, url) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return storage.ScrapeSession{}, err
	}
	defer stmt.Close()

	for i := range session.Products {
		p := &session.Products[i]
		p.SessionID = session.ID
		res, err := stmt.ExecContext(ctx, p.SessionID, p.ProductName, p.AvailableVariants, p.OutOfStockVariants, p.URL)
		if err != nil {
			return storage.ScrapeSession{}, fmt.Errorf("insert product %q: %w", p.ProductName, err)
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return storage.ScrapeSession{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.ScrapeSession{}, fmt.Errorf("commit session: %w", err)
	}
	return session, nil
}

// GetSession loads a session with its products.
func (s *Store) GetSession(ctx context.Context, id int64) (storage.ScrapeSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM scrape_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ScrapeSession{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ScrapeSession{}, fmt.Errorf("get session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, product_name, available_variants, out_of_stock_variants, url
		FROM products WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return storage.ScrapeSession{}, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p storage.Product
		if err := rows.Scan(&p.ID, &p.SessionID, &p.ProductName, &p.AvailableVariants, &p.OutOfStockVariants, &p.URL); err != nil {
			return storage.ScrapeSession{}, err
		}
		session.Products = append(session.Products, p)
	}
	return session, rows.Err()
}

// ListRecentSessions lists sessions newest first, without products.
func (s *Store) ListRecentSessions(ctx context.Context, limit int) ([]storage.ScrapeSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM scrape_sessions ORDER BY scraped_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []storage.ScrapeSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// InsertObservations batch-inserts observations.
func (s *Store) InsertObservations(ctx context.Context, observations []storage.Observation) error {
	if len(observations) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stock_observations (session_id, product_name, variant, keyword, pincode, is_available, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range observations {
		var session any
		if o.SessionID != 0 {
			session = o.SessionID
		}
		if _, err := stmt.ExecContext(ctx, session, o.ProductName, o.Variant, o.Keyword, o.Pincode, o.IsAvailable, unixNano(o.CheckedAt)); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}
	return tx.Commit()
}

// ListObservations returns matching observations ordered by check time.
func (s *Store) ListObservations(ctx context.Context, filter storage.ObservationFilter) ([]storage.Observation, error) {
	query := `SELECT id, COALESCE(session_id, 0), product_name, variant, keyword, pincode, is_available, checked_at FROM stock_observations`
	where, args := filter.Conditions(placeholder, unixNano)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY checked_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var observations []storage.Observation
	for rows.Next() {
		var (
			o         storage.Observation
			checkedAt int64
		)
		if err := rows.Scan(&o.ID, &o.SessionID, &o.ProductName, &o.Variant, &o.Keyword, &o.Pincode, &o.IsAvailable, &checkedAt); err != nil {
			return nil, err
		}
		o.CheckedAt = fromUnixNano(checkedAt)
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

// UpsertAlert runs the read-modify-write inside one transaction. The store
// holds a single connection, so transactions are serialised.
func (s *Store) UpsertAlert(ctx context.Context, key storage.AlertKey, fn storage.AlertMutator) (storage.Alert, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Alert{}, false, fmt.Errorf("begin alert tx: %w", err)
	}
	defer tx.Rollback()

	var current *storage.Alert
	existing, err := scanAlert(tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM stock_alerts
		WHERE product_name = ? AND variant = ? AND keyword = ? AND pincode = ? AND alert_type = ?`,
		key.ProductName, key.Variant, key.Keyword, key.Pincode, string(key.Type)))
	switch {
	case err == nil:
		current = &existing
	case errors.Is(err, sql.ErrNoRows):
	default:
		return storage.Alert{}, false, fmt.Errorf("select alert: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return storage.Alert{}, false, err
	}
	if next == nil {
		if current == nil {
			return storage.Alert{}, false, nil
		}
		return *current, false, tx.Commit()
	}

	outage, total, consecutive, weekly := storage.MetricColumns(next.Metrics)
	now := time.Now().UTC()
	updatedAt := next.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	var resolvedAt any
	if next.ResolvedAt != nil {
		resolvedAt = unixNano(*next.ResolvedAt)
	}

	var id int64
	if current == nil {
		createdAt := next.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO stock_alerts (product_name, variant, keyword, pincode, alert_type, severity,
			outage_count_today, total_checks_today, consecutive_days, weekly_outages, message, is_resolved, resolved_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key.ProductName, key.Variant, key.Keyword, key.Pincode, string(key.Type), string(next.Severity),
			outage, total, consecutive, weekly, next.Message, next.IsResolved, resolvedAt, unixNano(createdAt), unixNano(updatedAt))
		if err != nil {
			return storage.Alert{}, false, fmt.Errorf("insert alert: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return storage.Alert{}, false, err
		}
	} else {
		id = current.ID
		if _, err := tx.ExecContext(ctx, `UPDATE stock_alerts SET severity = ?, outage_count_today = ?, total_checks_today = ?,
			consecutive_days = ?, weekly_outages = ?, message = ?, is_resolved = ?, resolved_at = ?, updated_at = ?
			WHERE id = ?`,
			string(next.Severity), outage, total, consecutive, weekly, next.Message, next.IsResolved, resolvedAt, unixNano(updatedAt), id); err != nil {
			return storage.Alert{}, false, fmt.Errorf("update alert: %w", err)
		}
	}

	written, err := scanAlert(tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM stock_alerts WHERE id = ?`, id))
	if err != nil {
		return storage.Alert{}, false, fmt.Errorf("reload alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Alert{}, false, fmt.Errorf("commit alert: %w", err)
	}
	return written, true, nil
}

// GetAlert loads one alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (storage.Alert, error) {
	alert, err := scanAlert(s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM stock_alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Alert{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

// ListAlerts lists alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]storage.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM stock_alerts`
	where, args := filter.Conditions(placeholder, unixNano)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []storage.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// ResolveAlert marks an alert resolved at the given time.
func (s *Store) ResolveAlert(ctx context.Context, id int64, at time.Time) (storage.Alert, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE stock_alerts SET is_resolved = 1, resolved_at = ?, updated_at = ? WHERE id = ?`,
		unixNano(at), unixNano(at), id)
	if err != nil {
		return storage.Alert{}, fmt.Errorf("resolve alert: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.Alert{}, storage.ErrNotFound
	}
	return s.GetAlert(ctx, id)
}

// AlertStats aggregates alert counts.
func (s *Store) AlertStats(ctx context.Context) (storage.AlertStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alert_type, severity, is_resolved, COUNT(*) FROM stock_alerts GROUP BY alert_type, severity, is_resolved`)
	if err != nil {
		return storage.AlertStats{}, fmt.Errorf("alert stats: %w", err)
	}
	defer rows.Close()

	stats := storage.NewAlertStats()
	for rows.Next() {
		var (
			alertType, severity string
			resolved            bool
			count               int
		)
		if err := rows.Scan(&alertType, &severity, &resolved, &count); err != nil {
			return storage.AlertStats{}, err
		}
		stats.Add(storage.AlertType(alertType), storage.Severity(severity), resolved, count)
	}
	return stats, rows.Err()
}

// UpsertDailySummary overwrites the summary row for its date.
func (s *Store) UpsertDailySummary(ctx context.Context, summary storage.DailySummary) error {
	products := summary.MostProblematicProducts
	if products == nil {
		products = []string{}
	}
	encoded, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("marshal problematic products: %w", err)
	}
	updatedAt := summary.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO daily_summaries (`+summaryColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(summary_date) DO UPDATE SET
			total_products_checked = excluded.total_products_checked,
			total_out_of_stock = excluded.total_out_of_stock,
			availability_rate = excluded.availability_rate,
			most_problematic_products = excluded.most_problematic_products,
			updated_at = excluded.updated_at`,
		storage.DateKey(summary.Date), summary.TotalProductsChecked, summary.TotalOutOfStock,
		summary.AvailabilityRate.String(), string(encoded), unixNano(updatedAt))
	if err != nil {
		return fmt.Errorf("upsert daily summary: %w", err)
	}
	return nil
}

// GetDailySummary loads the summary for a calendar date.
func (s *Store) GetDailySummary(ctx context.Context, date time.Time) (storage.DailySummary, error) {
	summary, err := scanSummary(s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM daily_summaries WHERE summary_date = ?`, storage.DateKey(date)))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DailySummary{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.DailySummary{}, fmt.Errorf("get daily summary: %w", err)
	}
	return summary, nil
}

// ListDailySummaries lists summaries newest first.
func (s *Store) ListDailySummaries(ctx context.Context, limit int) ([]storage.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+summaryColumns+` FROM daily_summaries ORDER BY summary_date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list daily summaries: %w", err)
	}
	defer rows.Close()

	var summaries []storage.DailySummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (storage.ScrapeSession, error) {
	var (
		session   storage.ScrapeSession
		scrapedAt int64
		rateStr   string
	)
	if err := row.Scan(&session.ID, &session.RunID, &session.Keyword, &session.Pincode, &scrapedAt,
		&session.TotalProducts, &session.OutOfStockCount, &rateStr); err != nil {
		return storage.ScrapeSession{}, err
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return storage.ScrapeSession{}, fmt.Errorf("parse availability rate: %w", err)
	}
	session.Timestamp = fromUnixNano(scrapedAt)
	session.AvailabilityRate = rate
	return session, nil
}

func scanAlert(row scanner) (storage.Alert, error) {
	var (
		alert                              storage.Alert
		alertType, severity                string
		outage, total, consecutive, weekly int
		resolvedAt                         sql.NullInt64
		createdAt, updatedAt               int64
	)
	if err := row.Scan(&alert.ID, &alert.Key.ProductName, &alert.Key.Variant, &alert.Key.Keyword, &alert.Key.Pincode,
		&alertType, &severity, &outage, &total, &consecutive, &weekly,
		&alert.Message, &alert.IsResolved, &resolvedAt, &createdAt, &updatedAt); err != nil {
		return storage.Alert{}, err
	}
	alert.Key.Type = storage.AlertType(alertType)
	alert.Severity = storage.Severity(severity)
	alert.CreatedAt = fromUnixNano(createdAt)
	alert.UpdatedAt = fromUnixNano(updatedAt)
	if resolvedAt.Valid {
		t := fromUnixNano(resolvedAt.Int64)
		alert.ResolvedAt = &t
	}
	metrics, err := storage.MetricsFromColumns(alert.Key.Type, outage, total, consecutive, weekly)
	if err != nil {
		return storage.Alert{}, err
	}
	alert.Metrics = metrics
	return alert, nil
}

func scanSummary(row scanner) (storage.DailySummary, error) {
	var (
		summary   storage.DailySummary
		date      string
		rateStr   string
		products  string
		updatedAt int64
	)
	if err := row.Scan(&date, &summary.TotalProductsChecked, &summary.TotalOutOfStock, &rateStr, &products, &updatedAt); err != nil {
		return storage.DailySummary{}, err
	}
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return storage.DailySummary{}, fmt.Errorf("parse summary date: %w", err)
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return storage.DailySummary{}, fmt.Errorf("parse availability rate: %w", err)
	}
	if err := json.Unmarshal([]byte(products), &summary.MostProblematicProducts); err != nil {
		return storage.DailySummary{}, fmt.Errorf("parse problematic products: %w", err)
	}
	summary.Date = parsed
	summary.AvailabilityRate = rate
	summary.UpdatedAt = fromUnixNano(updatedAt)
	return summary, nil
}

var _ storage.Repository = (*Store)(nil)
