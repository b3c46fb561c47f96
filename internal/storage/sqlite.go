package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists jobs and their results in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "scrapejobs.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection serializes every mutation, which is what gives
	// per-job ordering here.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *SQLiteStore) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

const jobColumns = `id, status, progress, current, target, filename, error, params_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var status, params, createdAt, updatedAt string
	err := row.Scan(&j.ID, &status, &j.Progress, &j.Current, &j.Target,
		&j.Filename, &j.Error, &params, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.Status = Status(status)
	if err := json.Unmarshal([]byte(params), &j.Params); err != nil {
		return Job{}, fmt.Errorf("decoding params for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

func (s *SQLiteStore) Create(ctx context.Context, params Params) (Job, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return Job{}, fmt.Errorf("encoding params: %w", err)
	}
	now := s.now()
	job := Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Target:    params.Count,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ts := now.Format(timeLayout)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, target, params_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.Target, string(payload), ts, ts,
	)
	if err != nil {
		return Job{}, fmt.Errorf("inserting job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, fmt.Errorf("beginning read transaction: %w", err)
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return Job{}, err
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM results WHERE job_id = ?`, id).Scan(&job.Count); err != nil {
		return Job{}, fmt.Errorf("counting results: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) Results(ctx context.Context, id string, from int) ([]Result, int, error) {
	if from < 0 {
		from = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("beginning read transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, 0, err
	}
	if exists == 0 {
		return nil, 0, ErrNotFound
	}

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM results WHERE job_id = ?`, id).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting results: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT payload_json FROM results WHERE job_id = ? AND seq >= ? ORDER BY seq ASC`, id, from)
	if err != nil {
		return nil, 0, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	out := []Result{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, err
		}
		var r Result
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, 0, fmt.Errorf("decoding result: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// mutate loads the job inside a transaction, rejects terminal jobs, lets fn
// modify the row and writes it back together with the new updated_at.
func (s *SQLiteStore) mutate(ctx context.Context, id string, fn func(tx *sql.Tx, job *Job) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrInvalidTransition)
	}
	if err := fn(tx, &job); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = ?, current = ?, target = ?, filename = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(job.Status), job.Progress, job.Current, job.Target, job.Filename, job.Error,
		s.now().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendResults(ctx context.Context, id string, records []Result) error {
	return s.mutate(ctx, id, func(tx *sql.Tx, _ *Job) error {
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM results WHERE job_id = ?`, id).Scan(&next); err != nil {
			return fmt.Errorf("reading result sequence: %w", err)
		}
		for i, r := range records {
			payload, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encoding result %s: %w", r.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO results (job_id, seq, result_id, payload_json) VALUES (?, ?, ?, ?)`,
				id, next+i, r.ID, string(payload)); err != nil {
				return fmt.Errorf("inserting result %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SetProgress(ctx context.Context, id string, current, target int) error {
	return s.mutate(ctx, id, func(_ *sql.Tx, job *Job) error {
		return computeProgress(job, current, target)
	})
}

func (s *SQLiteStore) MarkRunning(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(_ *sql.Tx, job *Job) error {
		if job.Status != StatusPending {
			return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrInvalidTransition)
		}
		job.Status = StatusRunning
		return nil
	})
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, filename string) error {
	return s.mutate(ctx, id, func(_ *sql.Tx, job *Job) error {
		return completeJob(job, filename)
	})
}

func (s *SQLiteStore) Fail(ctx context.Context, id string, message string) error {
	return s.mutate(ctx, id, func(_ *sql.Tx, job *Job) error {
		return failJob(job, message)
	})
}

func (s *SQLiteStore) EvictBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning eviction transaction: %w", err)
	}
	defer tx.Rollback()

	ts := cutoff.UTC().Format(timeLayout)
	const expired = `SELECT id FROM jobs WHERE status IN ('completed', 'failed') AND updated_at < ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE job_id IN (`+expired+`)`, ts); err != nil {
		return 0, fmt.Errorf("deleting results: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id IN (`+expired+`)`, ts)
	if err != nil {
		return 0, fmt.Errorf("deleting jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing eviction: %w", err)
	}
	return int(n), nil
}
