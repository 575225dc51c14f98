package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"Poly_Maker/internal/data"
)

// DriftJournal persists every non-trivial reconcile correction.
type DriftJournal struct {
	db *sql.DB
}

// DriftRecord is one journaled reconcile.
type DriftRecord struct {
	ID     int64
	Market string
	At     time.Time
	Drift  data.Drift
}

func OpenDriftJournal(dbPath string) (*DriftJournal, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reconcile_drift (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market TEXT NOT NULL,
			ts INTEGER NOT NULL,
			was_initialized INTEGER NOT NULL,
			bids_added INTEGER NOT NULL,
			bids_removed INTEGER NOT NULL,
			bids_resized INTEGER NOT NULL,
			asks_added INTEGER NOT NULL,
			asks_removed INTEGER NOT NULL,
			asks_resized INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create drift table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_drift_market_ts ON reconcile_drift(market, ts);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create drift index: %w", err)
	}
	return &DriftJournal{db: db}, nil
}

// RecordDrift stores d with the current wall time.
func (j *DriftJournal) RecordDrift(ctx context.Context, d data.Drift) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO reconcile_drift
			(market, ts, was_initialized, bids_added, bids_removed, bids_resized, asks_added, asks_removed, asks_resized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Market, time.Now().UnixNano(), d.WasInitialized,
		d.Bids.Added, d.Bids.Removed, d.Bids.Resized,
		d.Asks.Added, d.Asks.Removed, d.Asks.Resized,
	)
	if err != nil {
		return fmt.Errorf("insert drift %s: %w", d.Market, err)
	}
	return nil
}

// Recent returns up to limit records for market, newest first. An empty
// market returns every market.
func (j *DriftJournal) Recent(ctx context.Context, market string, limit int) ([]DriftRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, market, ts, was_initialized, bids_added, bids_removed, bids_resized, asks_added, asks_removed, asks_resized
		FROM reconcile_drift`
	args := []any{}
	if market != "" {
		q += ` WHERE market = ?`
		args = append(args, market)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query drift: %w", err)
	}
	defer rows.Close()

	var out []DriftRecord
	for rows.Next() {
		var (
			r  DriftRecord
			ts int64
		)
		d := &r.Drift
		if err := rows.Scan(&r.ID, &r.Market, &ts, &d.WasInitialized,
			&d.Bids.Added, &d.Bids.Removed, &d.Bids.Resized,
			&d.Asks.Added, &d.Asks.Removed, &d.Asks.Resized); err != nil {
			return nil, fmt.Errorf("scan drift: %w", err)
		}
		d.Market = r.Market
		r.At = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Totals sums drifted levels per market.
func (j *DriftJournal) Totals(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT market, SUM(bids_added + bids_removed + bids_resized + asks_added + asks_removed + asks_resized)
		FROM reconcile_drift GROUP BY market`)
	if err != nil {
		return nil, fmt.Errorf("query drift totals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			m string
			n int
		)
		if err := rows.Scan(&m, &n); err != nil {
			return nil, err
		}
		out[m] = n
	}
	return out, rows.Err()
}

func (j *DriftJournal) Close() error { return j.db.Close() }
