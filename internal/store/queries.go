package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/clxrityy/tapbump/internal/updater"
)

// Run operations

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// BeginRun inserts an unfinished run row and returns its ID. Watch mode
// opens a run this way and adds checks as packages complete.
func (s *Store) BeginRun(mode string, startedAt time.Time) (int64, error) {
	return beginRun(s.db, mode, startedAt)
}

func beginRun(db execer, mode string, startedAt time.Time) (int64, error) {
	result, err := db.Exec(
		`INSERT INTO runs (started_at, mode) VALUES (?, ?)`,
		startedAt.UTC().Format(time.RFC3339Nano), mode,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", classify(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run ID: %w", err)
	}
	return id, nil
}

// FinishRun stamps a run as complete.
func (s *Store) FinishRun(id int64, finishedAt time.Time, anyUpdated bool) error {
	return finishRun(s.db, id, finishedAt, anyUpdated)
}

func finishRun(db execer, id int64, finishedAt time.Time, anyUpdated bool) error {
	result, err := db.Exec(
		`UPDATE runs SET finished_at = ?, any_updated = ? WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339Nano), anyUpdated, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %d: %w", id, classify(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %d not found", id)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns
// all runs.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `
		SELECT id, started_at, COALESCE(finished_at, ''), mode, any_updated
		FROM runs
		ORDER BY id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", classify(err))
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var startedAt, finishedAt string
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Mode, &r.AnyUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at for run %d: %w", r.ID, err)
		}
		if finishedAt != "" {
			if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
				return nil, fmt.Errorf("failed to parse finished_at for run %d: %w", r.ID, err)
			}
		}
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Check operations

// InsertCheck records one package result against an open run.
func (s *Store) InsertCheck(c *Check) error {
	return insertCheck(s.db, c)
}

func insertCheck(db execer, c *Check) error {
	query := `
		INSERT INTO checks
		(run_id, package, index_name, formula_path, current_version, latest_version,
		 outcome, source_url, sha256, error, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.Exec(query,
		c.RunID,
		c.Package,
		c.IndexName,
		c.FormulaPath,
		c.CurrentVersion,
		c.LatestVersion,
		c.Outcome,
		c.SourceURL,
		c.SHA256,
		c.Error,
		c.CheckedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert check for %s: %w", c.Package, classify(err))
	}
	if id, err := result.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

// RecordReport stores a finished run and all of its results in a single
// transaction and returns the run ID.
func (s *Store) RecordReport(mode string, startedAt, finishedAt time.Time, report *updater.Report) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	runID, err := beginRun(tx, mode, startedAt)
	if err != nil {
		return 0, err
	}

	for _, res := range report.Results {
		c := CheckFromResult(runID, res, finishedAt)
		if err := insertCheck(tx, c); err != nil {
			return 0, err
		}
	}
	if err := finishRun(tx, runID, finishedAt, report.AnyUpdated()); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}
	return runID, nil
}

// CheckFromResult converts an updater result into a Check row.
func CheckFromResult(runID int64, res updater.Result, at time.Time) *Check {
	c := &Check{
		RunID:          runID,
		Package:        res.Package.Name,
		IndexName:      res.Package.IndexName,
		FormulaPath:    res.Package.FormulaPath,
		CurrentVersion: res.Current,
		LatestVersion:  res.Latest,
		Outcome:        string(res.Outcome),
		SourceURL:      res.SourceURL,
		SHA256:         res.Digest,
		CheckedAt:      at,
	}
	if res.Err != nil {
		c.Error = res.Err.Error()
	}
	return c
}

const checkColumns = `
	id, run_id, package, index_name, formula_path,
	COALESCE(current_version, ''), COALESCE(latest_version, ''), outcome,
	COALESCE(source_url, ''), COALESCE(sha256, ''), COALESCE(error, ''), checked_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheck(row rowScanner) (*Check, error) {
	var c Check
	var checkedAt string
	err := row.Scan(
		&c.ID,
		&c.RunID,
		&c.Package,
		&c.IndexName,
		&c.FormulaPath,
		&c.CurrentVersion,
		&c.LatestVersion,
		&c.Outcome,
		&c.SourceURL,
		&c.SHA256,
		&c.Error,
		&checkedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CheckedAt, err = time.Parse(time.RFC3339Nano, checkedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checked_at for check %d: %w", c.ID, err)
	}
	return &c, nil
}

// ListChecks returns recorded checks, newest first. An empty pkg returns
// checks for every package; limit <= 0 returns all rows.
func (s *Store) ListChecks(pkg string, limit int) ([]*Check, error) {
	query := "SELECT " + checkColumns + " FROM checks"
	args := []any{}
	if pkg != "" {
		query += " WHERE package = ?"
		args = append(args, pkg)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", classify(err))
	}
	defer rows.Close()

	var checks []*Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checks: %w", err)
	}
	return checks, nil
}

// LastUpdate returns the most recent check for pkg that rewrote its
// formula, or nil if there is none.
func (s *Store) LastUpdate(pkg string) (*Check, error) {
	row := s.db.QueryRow(
		"SELECT "+checkColumns+" FROM checks WHERE package = ? AND outcome = ? ORDER BY id DESC LIMIT 1",
		pkg, string(updater.OutcomeUpdated),
	)
	c, err := scanCheck(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last update for %s: %w", pkg, classify(err))
	}
	return c, nil
}
