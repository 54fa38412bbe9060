// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/ecosync/internal/job"
)

// SQLiteStore is the default durable job store: a single SQLite database
// file in the agent's config directory.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the queue database under
// configDir and initializes the schema.
func NewSQLiteStore(configDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	dbPath := filepath.Join(configDir, "queue.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// initSchema creates the jobs table if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		chain_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		tx_hash TEXT NOT NULL DEFAULT '',
		next_attempt_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Add persists a new job record.
func (s *SQLiteStore) Add(ctx context.Context, j job.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, payload, chain_id, created_at, status, attempts, last_error, tx_hash, next_attempt_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Kind), string(j.Payload), j.ChainID, j.CreatedAt,
		string(j.Status), j.Attempts, j.LastError, j.TxHash, nullTime(j.NextAttemptAt),
	)
	if err != nil {
		return wrapSQLiteErr("failed to insert job", err)
	}
	return nil
}

// Get returns the job with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, payload, chain_id, created_at, status, attempts, last_error, tx_hash, next_attempt_at
		 FROM jobs WHERE id = ?`, id)

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, wrapSQLiteErr("failed to query job", err)
	}
	return j, nil
}

// ListUnsynced returns all pending jobs, oldest first.
func (s *SQLiteStore) ListUnsynced(ctx context.Context) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, payload, chain_id, created_at, status, attempts, last_error, tx_hash, next_attempt_at
		 FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC`, string(job.StatusPending))
	if err != nil {
		return nil, wrapSQLiteErr("failed to list unsynced jobs", err)
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrapSQLiteErr("failed to scan job", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Update applies a patch to one job. The WHERE clause refuses to move an
// already-synced job to any other status.
func (s *SQLiteStore) Update(ctx context.Context, id string, p Patch) error {
	var sets []string
	var args []interface{}

	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *p.Attempts)
	}
	if p.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *p.LastError)
	}
	if p.TxHash != nil {
		sets = append(sets, "tx_hash = ?")
		args = append(args, *p.TxHash)
	}
	if p.NextAttemptAt != nil {
		sets = append(sets, "next_attempt_at = ?")
		args = append(args, nullTime(*p.NextAttemptAt))
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if p.Status != nil && *p.Status != job.StatusSynced {
		// synced is terminal and monotonic
		query += " AND status != ?"
		args = append(args, string(job.StatusSynced))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapSQLiteErr("failed to update job", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		// Row exists but was synced: the patch is a no-op.
	}
	return nil
}

// Remove deletes a job record.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return wrapSQLiteErr("failed to delete job", err)
	}
	return nil
}

// Stats recomputes queue statistics from the jobs table.
func (s *SQLiteStore) Stats(ctx context.Context) (job.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return job.QueueStats{}, wrapSQLiteErr("failed to query stats", err)
	}
	defer rows.Close()

	var stats job.QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return job.QueueStats{}, wrapSQLiteErr("failed to scan stats", err)
		}
		stats.Total += count
		switch job.Status(status) {
		case job.StatusPending:
			stats.Pending += count
		case job.StatusFailed:
			stats.Failed += count
		case job.StatusSynced:
			stats.Synced += count
		}
	}
	return stats, rows.Err()
}

// Prune deletes terminal jobs created before the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE status IN (?, ?) AND created_at < ?",
		string(job.StatusSynced), string(job.StatusFailed), cutoff)
	if err != nil {
		return 0, wrapSQLiteErr("failed to prune jobs", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (job.Job, error) {
	var j job.Job
	var kind, status, payload string
	var next sql.NullTime

	err := row.Scan(&j.ID, &kind, &payload, &j.ChainID, &j.CreatedAt,
		&status, &j.Attempts, &j.LastError, &j.TxHash, &next)
	if err != nil {
		return job.Job{}, err
	}
	j.Kind = job.Kind(kind)
	j.Status = job.Status(status)
	j.Payload = []byte(payload)
	if next.Valid {
		j.NextAttemptAt = next.Time
	}
	return j, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// wrapSQLiteErr maps storage-capacity and availability failures onto
// ErrStoreUnavailable so callers can tell "work refused" from "work failed".
func wrapSQLiteErr(msg string, err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrFull, sqlite3.ErrCantOpen, sqlite3.ErrReadonly, sqlite3.ErrIoErr, sqlite3.ErrNotADB:
			return fmt.Errorf("%s: %w: %v", msg, ErrStoreUnavailable, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", msg, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
