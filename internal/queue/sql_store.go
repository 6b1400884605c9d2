package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/trobanga/rythmiq/internal/models"
)

// Compile-time interface check.
var _ Store = (*SQLStore)(nil)

// Dialect selects the SQL flavour of an SQLStore
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const jobColumns = `job_id, blob_id, user_id, state, attempt, max_attempts, next_visible_at,
	created_at, updated_at, schema_id, schema_version, ocr_artifact_id, schema_artifact_id,
	quality_score, error_code, retryable`

var migrations = map[Dialect]string{
	DialectSQLite: `CREATE TABLE IF NOT EXISTS jobs (
	seq                INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id             TEXT NOT NULL UNIQUE,
	blob_id            TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	state              TEXT NOT NULL,
	attempt            INTEGER NOT NULL,
	max_attempts       INTEGER NOT NULL,
	next_visible_at    BIGINT NOT NULL,
	created_at         BIGINT NOT NULL,
	updated_at         BIGINT NOT NULL,
	schema_id          TEXT NOT NULL DEFAULT '',
	schema_version     TEXT NOT NULL DEFAULT '',
	ocr_artifact_id    TEXT NOT NULL DEFAULT '',
	schema_artifact_id TEXT NOT NULL DEFAULT '',
	quality_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_code         TEXT NOT NULL DEFAULT '',
	retryable          BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS jobs_state_created ON jobs (state, created_at, seq);`,

	DialectPostgres: `CREATE TABLE IF NOT EXISTS jobs (
	seq                BIGSERIAL PRIMARY KEY,
	job_id             TEXT NOT NULL UNIQUE,
	blob_id            TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	state              TEXT NOT NULL,
	attempt            INTEGER NOT NULL,
	max_attempts       INTEGER NOT NULL,
	next_visible_at    BIGINT NOT NULL,
	created_at         BIGINT NOT NULL,
	updated_at         BIGINT NOT NULL,
	schema_id          TEXT NOT NULL DEFAULT '',
	schema_version     TEXT NOT NULL DEFAULT '',
	ocr_artifact_id    TEXT NOT NULL DEFAULT '',
	schema_artifact_id TEXT NOT NULL DEFAULT '',
	quality_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_code         TEXT NOT NULL DEFAULT '',
	retryable          BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS jobs_state_created ON jobs (state, created_at, seq);`,
}

// SQLStore keeps one row per job. Transitions are conditional UPDATEs on the
// expected state, which makes claiming a job safe across processors.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLStore opens the database for dialect and applies the schema.
// sqlite DSNs are file paths; postgres DSNs are connection URLs.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
	case DialectPostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One writer at a time avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}

	store, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database and applies the schema
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	ddl, ok := migrations[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", dialect, err)
		}
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// Close closes the underlying database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Truncate deletes every job
func (s *SQLStore) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("truncate jobs: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Create inserts a new job
func (s *SQLStore) Create(ctx context.Context, job *models.Job) error {
	query := s.rebind(`INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING`)

	res, err := s.db.ExecContext(ctx, query,
		job.JobID, job.BlobID, job.UserID, string(job.State), job.Attempt, job.MaxAttempts,
		toNanos(job.NextVisibleAt), toNanos(job.CreatedAt), toNanos(job.UpdatedAt),
		job.SchemaID, job.SchemaVersion, job.OCRArtifactID, job.SchemaArtifactID,
		job.QualityScore, string(job.ErrorCode), job.Retryable,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if rows == 0 {
		return ErrJobAlreadyExists
	}
	return nil
}

// Get returns the job with the given id
func (s *SQLStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`), jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs oldest first
func (s *SQLStore) List(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at, seq`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// CompareAndSwap updates the row only while it is still in expected
func (s *SQLStore) CompareAndSwap(ctx context.Context, job *models.Job, expected models.JobState) error {
	query := s.rebind(`UPDATE jobs SET
		state = ?, attempt = ?, max_attempts = ?, next_visible_at = ?, updated_at = ?,
		schema_id = ?, schema_version = ?, ocr_artifact_id = ?, schema_artifact_id = ?,
		quality_score = ?, error_code = ?, retryable = ?
		WHERE job_id = ? AND state = ?`)

	res, err := s.db.ExecContext(ctx, query,
		string(job.State), job.Attempt, job.MaxAttempts, toNanos(job.NextVisibleAt), toNanos(job.UpdatedAt),
		job.SchemaID, job.SchemaVersion, job.OCRArtifactID, job.SchemaArtifactID,
		job.QualityScore, string(job.ErrorCode), job.Retryable,
		job.JobID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if rows == 1 {
		return nil
	}

	if _, err := s.Get(ctx, job.JobID); err != nil {
		return err
	}
	return ErrStateConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                           models.Job
		state, errorCode              string
		nextVisible, created, updated int64
	)
	err := row.Scan(
		&job.JobID, &job.BlobID, &job.UserID, &state, &job.Attempt, &job.MaxAttempts,
		&nextVisible, &created, &updated,
		&job.SchemaID, &job.SchemaVersion, &job.OCRArtifactID, &job.SchemaArtifactID,
		&job.QualityScore, &errorCode, &job.Retryable,
	)
	if err != nil {
		return nil, err
	}
	job.State = models.JobState(state)
	job.ErrorCode = models.ErrorCode(errorCode)
	job.NextVisibleAt = fromNanos(nextVisible)
	job.CreatedAt = fromNanos(created)
	job.UpdatedAt = fromNanos(updated)
	return &job, nil
}

// Timestamps are stored as unix nanoseconds; the zero time is stored as 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
