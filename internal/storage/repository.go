package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	insertSessionSQL = `INSERT INTO scrape_sessions (
        run_id,
        keyword,
        pincode,
        scraped_at,
        total_products,
        out_of_stock_count,
        availability_rate
    ) VALUES ($1,$2,$3,$4,$5,$6,$7)
    RETURNING id;`

	insertProductSQL = `INSERT INTO products (
        session_id,
        product_name,
        available_variants,
        out_of_stock_variants,
        url
    ) VALUES ($1,$2,$3,$4,$5)
    RETURNING id;`

	selectSessionColumns = `SELECT
        id,
        run_id::text,
        keyword,
        pincode,
        scraped_at,
        total_products,
        out_of_stock_count,
        availability_rate::text
    FROM scrape_sessions`

	listProductsSQL = `SELECT
        id,
        session_id,
        product_name,
        available_variants,
        out_of_stock_variants,
        url
    FROM products
    WHERE session_id = $1
    ORDER BY id;`

	selectObservationColumns = `SELECT
        id,
        COALESCE(session_id, 0),
        product_name,
        variant,
        keyword,
        pincode,
        is_available,
        checked_at
    FROM stock_observations`

	alertColumns = `id,
        product_name,
        variant,
        keyword,
        pincode,
        alert_type,
        severity,
        outage_count_today,
        total_checks_today,
        consecutive_days,
        weekly_outages,
        message,
        is_resolved,
        resolved_at,
        created_at,
        updated_at`

	lockAlertKeySQL = `SELECT pg_advisory_xact_lock(hashtext($1));`

	selectAlertByKeySQL = `SELECT ` + alertColumns + `
    FROM stock_alerts
    WHERE product_name = $1
      AND variant = $2
      AND keyword = $3
      AND pincode = $4
      AND alert_type = $5;`

	insertAlertSQL = `INSERT INTO stock_alerts (
        product_name,
        variant,
        keyword,
        pincode,
        alert_type,
        severity,
        outage_count_today,
        total_checks_today,
        consecutive_days,
        weekly_outages,
        message,
        is_resolved,
        resolved_at,
        created_at,
        updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
    RETURNING ` + alertColumns + `;`

	updateAlertSQL = `UPDATE stock_alerts
    SET severity           = $2,
        outage_count_today = $3,
        total_checks_today = $4,
        consecutive_days   = $5,
        weekly_outages     = $6,
        message            = $7,
        is_resolved        = $8,
        resolved_at        = $9,
        updated_at         = $10
    WHERE id = $1
    RETURNING ` + alertColumns + `;`

	selectAlertByIDSQL = `SELECT ` + alertColumns + ` FROM stock_alerts WHERE id = $1;`

	resolveAlertSQL = `UPDATE stock_alerts
    SET is_resolved = TRUE,
        resolved_at = $2,
        updated_at  = $2
    WHERE id = $1
    RETURNING ` + alertColumns + `;`

	alertStatsSQL = `SELECT alert_type, severity, is_resolved, COUNT(*)
    FROM stock_alerts
    GROUP BY alert_type, severity, is_resolved;`

	upsertDailySummarySQL = `INSERT INTO daily_summaries (
        summary_date,
        total_products_checked,
        total_out_of_stock,
        availability_rate,
        most_problematic_products,
        updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (summary_date) DO UPDATE
    SET
        total_products_checked    = EXCLUDED.total_products_checked,
        total_out_of_stock        = EXCLUDED.total_out_of_stock,
        availability_rate         = EXCLUDED.availability_rate,
        most_problematic_products = EXCLUDED.most_problematic_products,
        updated_at                = EXCLUDED.updated_at;`

	selectSummaryColumns = `SELECT
        summary_date,
        total_products_checked,
        total_out_of_stock,
        availability_rate::text,
        most_problematic_products,
        updated_at
    FROM daily_summaries`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SessionStore persists scrape sessions and their products.
type SessionStore interface {
	CreateSession(ctx context.Context, session ScrapeSession) (ScrapeSession, error)
	GetSession(ctx context.Context, id int64) (ScrapeSession, error)
	ListRecentSessions(ctx context.Context, limit int) ([]ScrapeSession, error)
}

// ObservationStore is the append-only observation log.
type ObservationStore interface {
	InsertObservations(ctx context.Context, observations []Observation) error
	ListObservations(ctx context.Context, filter ObservationFilter) ([]Observation, error)
}

// AlertStore persists alerts keyed by their natural key.
type AlertStore interface {
	// UpsertAlert runs fn under a lock scoped to key and writes what it returns.
	// The bool reports whether a row was written.
	UpsertAlert(ctx context.Context, key AlertKey, fn AlertMutator) (Alert, bool, error)
	GetAlert(ctx context.Context, id int64) (Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
	ResolveAlert(ctx context.Context, id int64, at time.Time) (Alert, error)
	AlertStats(ctx context.Context) (AlertStats, error)
}

// SummaryStore persists daily roll-ups.
type SummaryStore interface {
	UpsertDailySummary(ctx context.Context, summary DailySummary) error
	GetDailySummary(ctx context.Context, date time.Time) (DailySummary, error)
	ListDailySummaries(ctx context.Context, limit int) ([]DailySummary, error)
}

// Repository is the full persistence surface a backend provides.
type Repository interface {
	SessionStore
	ObservationStore
	AlertStore
	SummaryStore
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// 释放失败时连接归还后会话结束，锁随之释放
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func pgTime(t time.Time) any { return t }

// CreateSession stores a session and its products in one transaction and
// returns them with identifiers filled in.
func (s *Store) CreateSession(ctx context.Context, session ScrapeSession) (ScrapeSession, error) {
	pool, err := s.getPool()
	if err != nil {
		return ScrapeSession{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return ScrapeSession{}, fmt.Errorf("begin session tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx, insertSessionSQL,
		session.RunID,
		session.Keyword,
		session.Pincode,
		session.Timestamp,
		session.TotalProducts,
		session.OutOfStockCount,
		session.AvailabilityRate.String(),
	).Scan(&session.ID); err != nil {
		return ScrapeSession{}, fmt.Errorf("insert session: %w", err)
	}

	for i := range session.Products {
		p := &session.Products[i]
		p.SessionID = session.ID
		if err := tx.QueryRow(ctx, insertProductSQL,
			p.SessionID,
			p.ProductName,
			p.AvailableVariants,
			p.OutOfStockVariants,
			p.URL,
		).Scan(&p.ID); err != nil {
			return ScrapeSession{}, fmt.Errorf("insert product %q: %w", p.ProductName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ScrapeSession{}, fmt.Errorf("commit session: %w", err)
	}
	return session, nil
}

// GetSession loads a session with its products.
func (s *Store) GetSession(ctx context.Context, id int64) (ScrapeSession, error) {
	pool, err := s.getPool()
	if err != nil {
		return ScrapeSession{}, err
	}

	session, err := scanSession(pool.QueryRow(ctx, selectSessionColumns+` WHERE id = $1;`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ScrapeSession{}, ErrNotFound
	}
	if err != nil {
		return ScrapeSession{}, fmt.Errorf("get session: %w", err)
	}

	rows, err := pool.Query(ctx, listProductsSQL, id)
	if err != nil {
		return ScrapeSession{}, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SessionID, &p.ProductName, &p.AvailableVariants, &p.OutOfStockVariants, &p.URL); err != nil {
			return ScrapeSession{}, err
		}
		session.Products = append(session.Products, p)
	}
	if rows.Err() != nil {
		return ScrapeSession{}, rows.Err()
	}
	return session, nil
}

// ListRecentSessions lists sessions newest first, without products.
func (s *Store) ListRecentSessions(ctx context.Context, limit int) ([]ScrapeSession, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, selectSessionColumns+` ORDER BY scraped_at DESC, id DESC LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]ScrapeSession, 0, limit)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return sessions, nil
}

// InsertObservations appends observations using COPY.
func (s *Store) InsertObservations(ctx context.Context, observations []Observation) error {
	if len(observations) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	columns := []string{"session_id", "product_name", "variant", "keyword", "pincode", "is_available", "checked_at"}
	_, err = pool.CopyFrom(ctx, pgx.Identifier{"stock_observations"}, columns,
		pgx.CopyFromSlice(len(observations), func(i int) ([]any, error) {
			o := observations[i]
			var session any
			if o.SessionID != 0 {
				session = o.SessionID
			}
			return []any{session, o.ProductName, o.Variant, o.Keyword, o.Pincode, o.IsAvailable, o.CheckedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy observations: %w", err)
	}
	return nil
}

// ListObservations returns matching observations ordered by check time.
func (s *Store) ListObservations(ctx context.Context, filter ObservationFilter) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query := selectObservationColumns
	where, args := filter.Conditions(pgPlaceholder, pgTime)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY checked_at, id;"

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	observations := make([]Observation, 0)
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.SessionID, &o.ProductName, &o.Variant, &o.Keyword, &o.Pincode, &o.IsAvailable, &o.CheckedAt); err != nil {
			return nil, err
		}
		observations = append(observations, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// UpsertAlert serialises writers of one natural key with a transaction-scoped
// advisory lock; the unique constraint backs it up.
func (s *Store) UpsertAlert(ctx context.Context, key AlertKey, fn AlertMutator) (Alert, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, false, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return Alert{}, false, fmt.Errorf("begin alert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockAlertKeySQL, key.String()); err != nil {
		return Alert{}, false, fmt.Errorf("lock alert key: %w", err)
	}

	var current *Alert
	existing, err := scanAlert(tx.QueryRow(ctx, selectAlertByKeySQL, key.ProductName, key.Variant, key.Keyword, key.Pincode, string(key.Type)))
	switch {
	case err == nil:
		current = &existing
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return Alert{}, false, fmt.Errorf("select alert: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return Alert{}, false, err
	}
	if next == nil {
		if current == nil {
			return Alert{}, false, nil
		}
		return *current, false, tx.Commit(ctx)
	}

	outage, total, consecutive, weekly := MetricColumns(next.Metrics)
	now := time.Now().UTC()
	updatedAt := next.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	var row pgx.Row
	if current == nil {
		createdAt := next.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		row = tx.QueryRow(ctx, insertAlertSQL,
			key.ProductName, key.Variant, key.Keyword, key.Pincode, string(key.Type),
			string(next.Severity), outage, total, consecutive, weekly,
			next.Message, next.IsResolved, next.ResolvedAt, createdAt, updatedAt,
		)
	} else {
		row = tx.QueryRow(ctx, updateAlertSQL,
			current.ID,
			string(next.Severity), outage, total, consecutive, weekly,
			next.Message, next.IsResolved, next.ResolvedAt, updatedAt,
		)
	}

	written, err := scanAlert(row)
	if err != nil {
		return Alert{}, false, fmt.Errorf("write alert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Alert{}, false, fmt.Errorf("commit alert: %w", err)
	}
	return written, true, nil
}

// GetAlert loads one alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	alert, err := scanAlert(pool.QueryRow(ctx, selectAlertByIDSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	if err != nil {
		return Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

// ListAlerts lists alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + alertColumns + ` FROM stock_alerts`
	where, args := filter.Conditions(pgPlaceholder, pgTime)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT " + pgPlaceholder(len(args))
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// ResolveAlert marks an alert resolved at the given time.
func (s *Store) ResolveAlert(ctx context.Context, id int64, at time.Time) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	alert, err := scanAlert(pool.QueryRow(ctx, resolveAlertSQL, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	if err != nil {
		return Alert{}, fmt.Errorf("resolve alert: %w", err)
	}
	return alert, nil
}

// AlertStats aggregates alert counts.
func (s *Store) AlertStats(ctx context.Context) (AlertStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertStats{}, err
	}

	rows, err := pool.Query(ctx, alertStatsSQL)
	if err != nil {
		return AlertStats{}, fmt.Errorf("alert stats: %w", err)
	}
	defer rows.Close()

	stats := NewAlertStats()
	for rows.Next() {
		var (
			alertType, severity string
			resolved            bool
			count               int
		)
		if err := rows.Scan(&alertType, &severity, &resolved, &count); err != nil {
			return AlertStats{}, err
		}
		stats.Add(AlertType(alertType), Severity(severity), resolved, count)
	}
	if rows.Err() != nil {
		return AlertStats{}, rows.Err()
	}
	return stats, nil
}

// UpsertDailySummary overwrites the summary row for its date.
func (s *Store) UpsertDailySummary(ctx context.Context, summary DailySummary) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	products, err := json.Marshal(nonNilStrings(summary.MostProblematicProducts))
	if err != nil {
		return fmt.Errorf("marshal problematic products: %w", err)
	}
	updatedAt := summary.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	if _, err := pool.Exec(ctx, upsertDailySummarySQL,
		CivilDate(summary.Date),
		summary.TotalProductsChecked,
		summary.TotalOutOfStock,
		summary.AvailabilityRate.String(),
		products,
		updatedAt,
	); err != nil {
		return fmt.Errorf("upsert daily summary: %w", err)
	}
	return nil
}

// GetDailySummary loads the summary for a calendar date.
func (s *Store) GetDailySummary(ctx context.Context, date time.Time) (DailySummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return DailySummary{}, err
	}
	summary, err := scanSummary(pool.QueryRow(ctx, selectSummaryColumns+` WHERE summary_date = $1;`, CivilDate(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return DailySummary{}, ErrNotFound
	}
	if err != nil {
		return DailySummary{}, fmt.Errorf("get daily summary: %w", err)
	}
	return summary, nil
}

// ListDailySummaries lists summaries newest first.
func (s *Store) ListDailySummaries(ctx context.Context, limit int) ([]DailySummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, selectSummaryColumns+` ORDER BY summary_date DESC LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list daily summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]DailySummary, 0, limit)
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return summaries, nil
}

func scanSession(row pgx.Row) (ScrapeSession, error) {
	var (
		session ScrapeSession
		rateStr string
	)
	if err := row.Scan(
		&session.ID,
		&session.RunID,
		&session.Keyword,
		&session.Pincode,
		&session.Timestamp,
		&session.TotalProducts,
		&session.OutOfStockCount,
		&rateStr,
	); err != nil {
		return ScrapeSession{}, err
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return ScrapeSession{}, fmt.Errorf("parse availability rate: %w", err)
	}
	session.AvailabilityRate = rate
	return session, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		alert                              Alert
		alertType, severity                string
		outage, total, consecutive, weekly int
		resolvedAt                         *time.Time
	)
	if err := row.Scan(
		&alert.ID,
		&alert.Key.ProductName,
		&alert.Key.Variant,
		&alert.Key.Keyword,
		&alert.Key.Pincode,
		&alertType,
		&severity,
		&outage,
		&total,
		&consecutive,
		&weekly,
		&alert.Message,
		&alert.IsResolved,
		&resolvedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return Alert{}, err
	}
	alert.Key.Type = AlertType(alertType)
	alert.Severity = Severity(severity)
	alert.ResolvedAt = resolvedAt

	metrics, err := MetricsFromColumns(alert.Key.Type, outage, total, consecutive, weekly)
	if err != nil {
		return Alert{}, err
	}
	alert.Metrics = metrics
	return alert, nil
}

func scanSummary(row pgx.Row) (DailySummary, error) {
	var (
		summary  DailySummary
		rateStr  string
		products []byte
	)
	if err := row.Scan(
		&summary.Date,
		&summary.TotalProductsChecked,
		&summary.TotalOutOfStock,
		&rateStr,
		&products,
		&summary.UpdatedAt,
	); err != nil {
		return DailySummary{}, err
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return DailySummary{}, fmt.Errorf("parse availability rate: %w", err)
	}
	summary.AvailabilityRate = rate
	if err := json.Unmarshal(products, &summary.MostProblematicProducts); err != nil {
		return DailySummary{}, fmt.Errorf("parse problematic products: %w", err)
	}
	return summary, nil
}

// NewAlertStats returns zeroed stats with initialised maps.
func NewAlertStats() AlertStats {
	return AlertStats{
		BySeverity: make(map[Severity]int),
		ByType:     make(map[AlertType]int),
	}
}

// Add folds one grouped count into the stats.
func (s *AlertStats) Add(t AlertType, severity Severity, resolved bool, count int) {
	s.Total += count
	if resolved {
		s.Resolved += count
		return
	}
	s.Active += count
	s.BySeverity[severity] += count
	s.ByType[t] += count
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
