package history

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the history database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		size INTEGER NOT NULL,
		md5 TEXT,
		status TEXT NOT NULL,
		last_error TEXT,
		bytes INTEGER DEFAULT 0,
		elapsed_ms INTEGER DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetRun retrieves one run's record, or nil when it was never recorded.
func (s *SQLiteStore) GetRun(runID string) (*RunRecord, error) {
	query := `
	SELECT run_id, bucket, key, size, md5, status, last_error, bytes, elapsed_ms, updated_at
	FROM runs WHERE run_id = ?
	`

	row := s.db.QueryRow(query, runID)

	var record RunRecord
	var md5, lastError sql.NullString

	err := row.Scan(
		&record.RunID,
		&record.Bucket,
		&record.Key,
		&record.Size,
		&md5,
		&record.Status,
		&lastError,
		&record.Bytes,
		&record.ElapsedMs,
		&record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	record.MD5 = md5.String
	record.LastError = lastError.String
	return &record, nil
}

// SaveRun upserts one run's record. Writes are serialized to avoid
// SQLITE_BUSY under the outer file-level concurrency.
func (s *SQLiteStore) SaveRun(record *RunRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		record.UpdatedAt = time.Now()

		query := `
		INSERT INTO runs
		(run_id, bucket, key, size, md5, status, last_error, bytes, elapsed_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			bucket = excluded.bucket,
			key = excluded.key,
			size = excluded.size,
			md5 = excluded.md5,
			status = excluded.status,
			last_error = excluded.last_error,
			bytes = excluded.bytes,
			elapsed_ms = excluded.elapsed_ms,
			updated_at = excluded.updated_at
		`

		_, err := s.db.Exec(query,
			record.RunID,
			record.Bucket,
			record.Key,
			record.Size,
			record.MD5,
			record.Status,
			record.LastError,
			record.Bytes,
			record.ElapsedMs,
			record.UpdatedAt,
		)
		return err
	})
}

// ListFailedRuns returns every run whose last recorded state was not a
// success, oldest first.
func (s *SQLiteStore) ListFailedRuns() ([]*RunRecord, error) {
	query := `
	SELECT run_id, bucket, key, size, md5, status, last_error, bytes, elapsed_ms, updated_at
	FROM runs WHERE status != ?
	ORDER BY updated_at ASC
	`

	rows, err := s.db.Query(query, StatusSucceeded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var record RunRecord
		var md5, lastError sql.NullString

		err := rows.Scan(
			&record.RunID,
			&record.Bucket,
			&record.Key,
			&record.Size,
			&md5,
			&record.Status,
			&lastError,
			&record.Bytes,
			&record.ElapsedMs,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		record.MD5 = md5.String
		record.LastError = lastError.String
		records = append(records, &record)
	}

	return records, rows.Err()
}

// retryOnBusy retries the operation while SQLite reports contention.
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isBusyError(err) {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
