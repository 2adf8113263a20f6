package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/runner"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/severity"
)

// Run is one recorded run summary.
type Run struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
	Mode         string        `json:"mode"`
	Total        int           `json:"total"`
	Passed       int           `json:"passed"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	SuccessRate  int           `json:"successRate"`
	WarningCount int           `json:"warningCount"`
	ExitCode     int           `json:"exitCode"`
}

// Failure is one failed case of a recorded run.
type Failure struct {
	Suite string         `json:"suite"`
	Test  string         `json:"test"`
	Level severity.Level `json:"level"`
	Error string         `json:"error"`
}

// Store keeps run summaries in a SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	path   string
}

// Open opens or creates the history database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_fk=true&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, logger: logger, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		mode TEXT NOT NULL,
		total INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		success_rate INTEGER NOT NULL,
		warning_count INTEGER NOT NULL,
		exit_code INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		suite TEXT NOT NULL,
		test TEXT NOT NULL,
		level INTEGER NOT NULL,
		error TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_failures_run_id ON failures(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores the summary and failures of a run.
func (s *Store) Record(ctx context.Context, result *runner.RunResult, exitCode int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sum := result.Summary
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, duration_ms, mode, total, passed, failed, skipped, success_rate, warning_count, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.Timestamp.UnixMilli(), result.Duration.Milliseconds(), result.Mode,
		sum.Total, sum.Passed, sum.Failed, sum.Skipped, sum.SuccessRate, sum.WarningCount, exitCode)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO failures (run_id, suite, test, level, error) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range sum.Errors {
		if _, err := stmt.ExecContext(ctx, result.ID, e.Suite, e.Test, int(e.Level), e.Error); err != nil {
			return fmt.Errorf("failed to insert failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	s.logger.Debug("Recorded run", zap.String("id", result.ID), zap.Int("failures", len(sum.Errors)))
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, mode, total, passed, failed, skipped, success_rate, warning_count, exit_code
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedMs, durationMs int64
		if err := rows.Scan(&r.ID, &startedMs, &durationMs, &r.Mode, &r.Total, &r.Passed,
			&r.Failed, &r.Skipped, &r.SuccessRate, &r.WarningCount, &r.ExitCode); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMs)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Failures returns the failed cases recorded for a run.
func (s *Store) Failures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT suite, test, level, error FROM failures WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var level int
		if err := rows.Scan(&f.Suite, &f.Test, &level, &f.Error); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.Level = severity.Level(level)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep runs and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}
