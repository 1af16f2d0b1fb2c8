package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/starschema/pkg/core"
)

const runColumns = `id, input, input_fingerprint, status, started_at, completed_at, error,
	total_rows, clean_rows, skipped_rows, duplicate_rows, warnings`

// CreateRun starts a new run for an input file.
func (s *SQLiteStore) CreateRun(ctx context.Context, input string) (*core.Run, error) {
	if s.db == nil {
		return nil, errNotOpen
	}

	run := &core.Run{
		ID:        generateID(),
		Input:     input,
		Status:    core.RunStatusRunning,
		StartedAt: s.now(),
	}
	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("input", input))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Input, string(run.Status), formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun stores the final status, counters and fingerprint of a run.
// CompletedAt is set from the store clock.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *core.Run) error {
	if s.db == nil {
		return errNotOpen
	}

	now := s.now()
	run.CompletedAt = &now
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			input_fingerprint = ?, status = ?, completed_at = ?, error = ?,
			total_rows = ?, clean_rows = ?, skipped_rows = ?, duplicate_rows = ?, warnings = ?
		WHERE id = ?`,
		run.InputFingerprint, string(run.Status), formatTime(now), nullString(run.Error),
		run.TotalRows, run.CleanRows, run.SkippedRows, run.DuplicateRows, run.Warnings,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// GetLatestRun returns the most recently started run, optionally restricted
// to a status. An empty status matches any run.
func (s *SQLiteStore) GetLatestRun(ctx context.Context, status core.RunStatus) (*core.Run, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE ? = '' OR status = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1`, string(status), string(status))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteOldRuns keeps the newest keep runs and deletes the rest together
// with their stages and table stats.
func (s *SQLiteStore) DeleteOldRuns(ctx context.Context, keep int) (int64, error) {
	if s.db == nil {
		return 0, errNotOpen
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("deleted old runs", slog.Int64("count", n))
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*core.Run, error) {
	var (
		run         core.Run
		status      string
		startedAt   string
		completedAt sql.NullString
		errMsg      sql.NullString
	)
	err := sc.Scan(&run.ID, &run.Input, &run.InputFingerprint, &status, &startedAt, &completedAt, &errMsg,
		&run.TotalRows, &run.CleanRows, &run.SkippedRows, &run.DuplicateRows, &run.Warnings)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = core.RunStatus(status)
	run.Error = errMsg.String
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("run %s: bad started_at: %w", run.ID, err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("run %s: bad completed_at: %w", run.ID, err)
		}
		run.CompletedAt = &t
	}
	return &run, nil
}
