package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ffarm/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the journal was written by an incompatible build.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const jobColumns = "id, seq, source, destination, parameters_json, status, assigned_worker, attempt_count, result, error_message, progress_percent, progress_message, retry_of, log_tail_json, created_at, updated_at"

// Store is the SQLite job journal. The scheduler writes every job mutation
// through it and replays it at startup.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal configured in cfg.
func Open(cfg *config.Config) (*Store, error) {
	return OpenPath(cfg.Storage.JournalPath)
}

// OpenPath initializes or connects to the journal at path.
func OpenPath(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an already-initialized database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Path returns the on-disk journal location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the full job record.
func (s *Store) Save(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	var tail any
	if len(job.LogTail) > 0 {
		encoded, err := json.Marshal(job.LogTail)
		if err != nil {
			return fmt.Errorf("marshal log tail: %w", err)
		}
		tail = string(encoded)
	}

	err = s.execWithRetry(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             status = excluded.status,
             assigned_worker = excluded.assigned_worker,
             attempt_count = excluded.attempt_count,
             result = excluded.result,
             error_message = excluded.error_message,
             progress_percent = excluded.progress_percent,
             progress_message = excluded.progress_message,
             retry_of = excluded.retry_of,
             log_tail_json = excluded.log_tail_json,
             updated_at = excluded.updated_at`,
		job.ID,
		job.Seq,
		job.Source,
		job.Destination,
		string(params),
		string(job.Status),
		nullableString(job.AssignedWorker),
		job.AttemptCount,
		nullableString(job.Result),
		nullableString(job.Error),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		nullableString(job.RetryOf),
		tail,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// LoadAll returns every journaled job in submission order.
func (s *Store) LoadAll(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: journal has version %d, expected %d (move %s aside to start fresh)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job            Job
		params         string
		status         string
		assignedWorker sql.NullString
		result         sql.NullString
		errorMessage   sql.NullString
		progressMsg    sql.NullString
		retryOf        sql.NullString
		logTail        sql.NullString
		createdRaw     string
		updatedRaw     string
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Seq,
		&job.Source,
		&job.Destination,
		&params,
		&status,
		&assignedWorker,
		&job.AttemptCount,
		&result,
		&errorMessage,
		&job.ProgressPercent,
		&progressMsg,
		&retryOf,
		&logTail,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	parsed, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("job %s has unknown status %q", job.ID, status)
	}
	job.Status = parsed
	job.AssignedWorker = assignedWorker.String
	job.Result = result.String
	job.Error = errorMessage.String
	job.ProgressMessage = progressMsg.String
	job.RetryOf = retryOf.String
	if err := json.Unmarshal([]byte(params), &job.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters for job %s: %w", job.ID, err)
	}
	if logTail.Valid && logTail.String != "" {
		if err := json.Unmarshal([]byte(logTail.String), &job.LogTail); err != nil {
			return nil, fmt.Errorf("decode log tail for job %s: %w", job.ID, err)
		}
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
