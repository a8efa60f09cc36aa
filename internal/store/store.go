// Package store persists the fingerprint ledger and the relay audit log in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"docrelay/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.FingerprintLedger and domain.RelayLog.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection: the poll loop and the webhook both write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) RecordFingerprint(ctx context.Context, out domain.SyncOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (hash, name, remote_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		out.Fingerprint, out.Name, out.RemoteID, string(out.Status), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record fingerprint %s: %w", out.Name, err)
	}
	return nil
}

// Fingerprints returns every distinct hash ever recorded.
func (s *SQLiteStore) Fingerprints(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT hash FROM fingerprints ORDER BY hash`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (s *SQLiteStore) RecordRelay(ctx context.Context, rec domain.RelayRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_log (channel, sender, correlation_id, success, escalated, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Channel), rec.SenderID, rec.CorrelationID, rec.Success, rec.Escalated, rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record relay: %w", err)
	}
	return nil
}

// RecentRelays returns the newest records first.
func (s *SQLiteStore) RecentRelays(ctx context.Context, limit int) ([]domain.RelayRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, sender, correlation_id, success, escalated, latency_ms, created_at
		 FROM relay_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query relay log: %w", err)
	}
	defer rows.Close()

	var recs []domain.RelayRecord
	for rows.Next() {
		var r domain.RelayRecord
		var channel string
		var correlation sql.NullString
		if err := rows.Scan(&channel, &r.SenderID, &correlation, &r.Success, &r.Escalated, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Channel = domain.Channel(channel)
		r.CorrelationID = correlation.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Stats summarises the store for diagnostics.
type Stats struct {
	Fingerprints int
	Relays       int
	Failures     int
	Escalations  int
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT hash) FROM fingerprints`).Scan(&st.Fingerprints); err != nil {
		return st, fmt.Errorf("count fingerprints: %w", err)
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(escalated), 0)
		 FROM relay_log`,
	).Scan(&st.Relays, &st.Failures, &st.Escalations)
	if err != nil {
		return st, fmt.Errorf("count relays: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ domain.FingerprintLedger = (*SQLiteStore)(nil)
	_ domain.RelayLog          = (*SQLiteStore)(nil)
)
