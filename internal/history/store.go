// Package history archives finalized jobs of every monitored node in SQLite
// and syncs them to an external stream.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aceteam-ai/nosana-monitor/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    address             TEXT NOT NULL,
    job_id              TEXT NOT NULL,
    market              TEXT NOT NULL DEFAULT '',
    started_at          INTEGER NOT NULL,
    ended_at            INTEGER NOT NULL,
    runtime_seconds     INTEGER NOT NULL,
    usd_reward_per_hour REAL NOT NULL DEFAULT 0,
    earned_usd          REAL NOT NULL DEFAULT 0,
    tokens_per_second   REAL NOT NULL DEFAULT 0,
    model_id            TEXT NOT NULL DEFAULT '',
    synced              INTEGER NOT NULL DEFAULT 0,
    created_at          TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE(address, job_id)
);
CREATE INDEX IF NOT EXISTS idx_job_history_synced ON job_history(synced) WHERE synced = 0;
`

// Store provides SQLite-backed storage for job history.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the history database at dbPath and runs migrations.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	// WAL lets the status commands read while the daemon writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Upsert stores a job record. A job already archived for the same node is
// overwritten (corrections) and queued for sync again.
func (s *Store) Upsert(ctx context.Context, r JobRecord) error {
	_, err := s.db.ExecContext(ctx, upsertSQL,
		r.Address, r.JobID, r.Market,
		r.StartedAt.Unix(), r.EndedAt.Unix(), r.RuntimeSeconds,
		r.USDRewardPerHour, r.EarnedUSD,
		r.TokensPerSecond, r.ModelID,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", r.JobID, err)
	}
	return nil
}

const upsertSQL = `
	INSERT INTO job_history (
		address, job_id, market,
		started_at, ended_at, runtime_seconds,
		usd_reward_per_hour, earned_usd,
		tokens_per_second, model_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(address, job_id) DO UPDATE SET
		market = excluded.market,
		started_at = excluded.started_at,
		ended_at = excluded.ended_at,
		runtime_seconds = excluded.runtime_seconds,
		usd_reward_per_hour = excluded.usd_reward_per_hour,
		earned_usd = excluded.earned_usd,
		tokens_per_second = excluded.tokens_per_second,
		model_id = excluded.model_id,
		synced = 0`

// RecordJobs archives finalized ledger records of a node in one transaction.
func (s *Store) RecordJobs(ctx context.Context, address string, records []ledger.JobRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if !rec.Finalized {
			continue
		}
		r := FromLedger(address, rec)
		if _, err := stmt.ExecContext(ctx,
			r.Address, r.JobID, r.Market,
			r.StartedAt.Unix(), r.EndedAt.Unix(), r.RuntimeSeconds,
			r.USDRewardPerHour, r.EarnedUSD,
			r.TokensPerSecond, r.ModelID,
		); err != nil {
			return fmt.Errorf("upsert job %s: %w", r.JobID, err)
		}
	}

	return tx.Commit()
}

// FromLedger converts a finalized ledger record.
func FromLedger(address string, rec ledger.JobRecord) JobRecord {
	r := JobRecord{
		Address:        address,
		JobID:          rec.JobID,
		Market:         rec.Market,
		StartedAt:      time.Unix(rec.TimeStart, 0).UTC(),
		EndedAt:        time.Unix(rec.TimeEnd, 0).UTC(),
		RuntimeSeconds: rec.RuntimeSeconds,
		EarnedUSD:      rec.EarnedUSD,
	}
	if rec.USDRewardPerHour != nil {
		r.USDRewardPerHour = *rec.USDRewardPerHour
	}
	if rec.Benchmark != nil {
		r.TokensPerSecond = rec.Benchmark.TokensPerSecond
		r.ModelID = rec.Benchmark.ModelID
	}
	return r
}

const selectColumns = `
	SELECT id, address, job_id, market,
	       started_at, ended_at, runtime_seconds,
	       usd_reward_per_hour, earned_usd,
	       tokens_per_second, model_id, synced
	FROM job_history`

// QueryUnsynced returns up to limit records that have not been synced.
func (s *Store) QueryUnsynced(limit int) ([]JobRecord, error) {
	rows, err := s.db.Query(selectColumns+`
	WHERE synced = 0
	ORDER BY id ASC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsynced: %w", err)
	}
	return scanRecords(rows)
}

// Recent returns the newest records of address, or of every node when
// address is empty.
func (s *Store) Recent(address string, limit int) ([]JobRecord, error) {
	rows, err := s.db.Query(selectColumns+`
	WHERE (? = '' OR address = ?)
	ORDER BY ended_at DESC, id DESC
	LIMIT ?`, address, address, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]JobRecord, error) {
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		var r JobRecord
		var startedAt, endedAt int64
		var synced int
		if err := rows.Scan(
			&r.ID, &r.Address, &r.JobID, &r.Market,
			&startedAt, &endedAt, &r.RuntimeSeconds,
			&r.USDRewardPerHour, &r.EarnedUSD,
			&r.TokensPerSecond, &r.ModelID, &synced,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.StartedAt = time.Unix(startedAt, 0).UTC()
		r.EndedAt = time.Unix(endedAt, 0).UTC()
		r.Synced = synced != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// Totals returns per-node aggregates ordered by address.
func (s *Store) Totals() ([]Totals, error) {
	rows, err := s.db.Query(`
		SELECT address, COUNT(*), COALESCE(SUM(runtime_seconds), 0), COALESCE(SUM(earned_usd), 0),
		       MIN(started_at), MAX(ended_at)
		FROM job_history
		GROUP BY address
		ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	defer rows.Close()

	var totals []Totals
	for rows.Next() {
		var t Totals
		var first, last int64
		if err := rows.Scan(&t.Address, &t.Jobs, &t.RuntimeSeconds, &t.EarnedUSD, &first, &last); err != nil {
			return nil, fmt.Errorf("scan totals: %w", err)
		}
		t.FirstJobAt = time.Unix(first, 0).UTC()
		t.LastJobAt = time.Unix(last, 0).UTC()
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// MarkSynced sets the synced flag to 1 for the given record IDs.
func (s *Store) MarkSynced(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE job_history SET synced = 1 WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("mark synced id=%d: %w", id, err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
