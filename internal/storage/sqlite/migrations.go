package sqlite

import "database/sql"

// Each entry is one schema version; append only.
var migrations = []string{
	// v1: sessions, products, observations, alerts, daily summaries
	`CREATE TABLE IF NOT EXISTS scrape_sessions (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id             TEXT    NOT NULL,
		keyword            TEXT    NOT NULL,
		pincode            TEXT    NOT NULL,
		scraped_at         INTEGER NOT NULL,
		total_products     INTEGER NOT NULL DEFAULT 0,
		out_of_stock_count INTEGER NOT NULL DEFAULT 0,
		availability_rate  TEXT    NOT NULL DEFAULT '0'
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_scraped_at ON scrape_sessions(scraped_at);

	CREATE TABLE IF NOT EXISTS products (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id            INTEGER NOT NULL REFERENCES scrape_sessions(id) ON DELETE CASCADE,
		product_name          TEXT    NOT NULL,
		available_variants    TEXT    NOT NULL DEFAULT '',
		out_of_stock_variants TEXT    NOT NULL DEFAULT '',
		url                   TEXT    NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_products_session ON products(session_id);

	CREATE TABLE IF NOT EXISTS stock_observations (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   INTEGER REFERENCES scrape_sessions(id) ON DELETE SET NULL,
		product_name TEXT    NOT NULL,
		variant      TEXT    NOT NULL DEFAULT '',
		keyword      TEXT    NOT NULL,
		pincode      TEXT    NOT NULL,
		is_available INTEGER NOT NULL,
		checked_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_observations_scope ON stock_observations(keyword, pincode, checked_at);
	CREATE INDEX IF NOT EXISTS idx_observations_checked_at ON stock_observations(checked_at);

	CREATE TABLE IF NOT EXISTS stock_alerts (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		product_name       TEXT    NOT NULL,
		variant            TEXT    NOT NULL DEFAULT '',
		keyword            TEXT    NOT NULL,
		pincode            TEXT    NOT NULL,
		alert_type         TEXT    NOT NULL,
		severity           TEXT    NOT NULL,
		outage_count_today INTEGER NOT NULL DEFAULT 0,
		total_checks_today INTEGER NOT NULL DEFAULT 0,
		consecutive_days   INTEGER NOT NULL DEFAULT 0,
		weekly_outages     INTEGER NOT NULL DEFAULT 0,
		message            TEXT    NOT NULL,
		is_resolved        INTEGER NOT NULL DEFAULT 0,
		resolved_at        INTEGER,
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL,
		UNIQUE (product_name, variant, keyword, pincode, alert_type)
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_open ON stock_alerts(is_resolved, created_at);

	CREATE TABLE IF NOT EXISTS daily_summaries (
		summary_date              TEXT PRIMARY KEY,
		total_products_checked    INTEGER NOT NULL,
		total_out_of_stock        INTEGER NOT NULL,
		availability_rate         TEXT    NOT NULL,
		most_problematic_products TEXT    NOT NULL DEFAULT '[]',
		updated_at                INTEGER NOT NULL
	);`,
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var currentVersion int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
