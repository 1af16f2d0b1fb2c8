package state

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/starschema/pkg/core"
)

// RecordStage inserts a stage execution. An empty ID is generated.
func (s *SQLiteStore) RecordStage(ctx context.Context, stage *core.StageRun) error {
	if s.db == nil {
		return errNotOpen
	}
	if stage.ID == "" {
		stage.ID = generateID()
	}
	if stage.Status == "" {
		stage.Status = core.StageStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_runs (id, run_id, stage, position, status, rows_in, rows_out, duration_ms, error)
		VALUES (?, ?, ?, (SELECT COUNT(*) FROM stage_runs WHERE run_id = ?), ?, ?, ?, ?, ?)`,
		stage.ID, stage.RunID, stage.Stage, stage.RunID, string(stage.Status),
		stage.RowsIn, stage.RowsOut, stage.DurationMS, nullString(stage.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record stage %s: %w", stage.Stage, err)
	}
	return nil
}

// UpdateStage stores the status, counters and error of a stage.
func (s *SQLiteStore) UpdateStage(ctx context.Context, stage *core.StageRun) error {
	if s.db == nil {
		return errNotOpen
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE stage_runs SET status = ?, rows_in = ?, rows_out = ?, duration_ms = ?, error = ?
		WHERE id = ?`,
		string(stage.Status), stage.RowsIn, stage.RowsOut, stage.DurationMS, nullString(stage.Error), stage.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update stage %s: %w", stage.Stage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stage %s: %w", stage.ID, ErrNotFound)
	}
	return nil
}

// GetStagesForRun returns the stages of a run in recording order.
func (s *SQLiteStore) GetStagesForRun(ctx context.Context, runID string) ([]*core.StageRun, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, stage, status, rows_in, rows_out, duration_ms, COALESCE(error, '')
		FROM stage_runs WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stages []*core.StageRun
	for rows.Next() {
		var st core.StageRun
		var status string
		if err := rows.Scan(&st.ID, &st.RunID, &st.Stage, &status, &st.RowsIn, &st.RowsOut, &st.DurationMS, &st.Error); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		st.Status = core.StageStatus(status)
		stages = append(stages, &st)
	}
	return stages, rows.Err()
}

// SaveTableStats replaces the table statistics of a run.
func (s *SQLiteStore) SaveTableStats(ctx context.Context, runID string, stats []core.TableStat) error {
	if s.db == nil {
		return errNotOpen
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM table_stats WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear table stats: %w", err)
	}
	for i, st := range stats {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO table_stats (run_id, table_name, position, row_count, fingerprint) VALUES (?, ?, ?, ?, ?)`,
			runID, st.TableName, i, st.RowCount, st.Fingerprint,
		); err != nil {
			return fmt.Errorf("failed to save stats for %s: %w", st.TableName, err)
		}
	}
	return tx.Commit()
}

// GetTableStats returns the table statistics of a run in saved order.
func (s *SQLiteStore) GetTableStats(ctx context.Context, runID string) ([]core.TableStat, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, row_count, fingerprint FROM table_stats
		WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get table stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []core.TableStat
	for rows.Next() {
		var st core.TableStat
		if err := rows.Scan(&st.TableName, &st.RowCount, &st.Fingerprint); err != nil {
			return nil, fmt.Errorf("failed to scan table stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
