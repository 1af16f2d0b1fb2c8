package core

import (
	"context"
	"time"
)

// Store defines the interface for run history operations.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Run operations
	CreateRun(ctx context.Context, input string) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, run *Run) error
	GetLatestRun(ctx context.Context, status RunStatus) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	DeleteOldRuns(ctx context.Context, keep int) (int64, error)

	// Stage operations
	RecordStage(ctx context.Context, stage *StageRun) error
	UpdateStage(ctx context.Context, stage *StageRun) error
	GetStagesForRun(ctx context.Context, runID string) ([]*StageRun, error)

	// Table statistics
	SaveTableStats(ctx context.Context, runID string, stats []TableStat) error
	GetTableStats(ctx context.Context, runID string) ([]TableStat, error)
}

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run represents one pipeline execution.
type Run struct {
	ID               string
	Input            string
	InputFingerprint string
	Status           RunStatus
	StartedAt        time.Time
	CompletedAt      *time.Time
	Error            string

	TotalRows     int
	CleanRows     int
	SkippedRows   int
	DuplicateRows int
	Warnings      int
}

// StageStatus represents the status of a single pipeline stage.
type StageStatus string

// Stage status constants.
const (
	StageStatusPending StageStatus = "pending"
	StageStatusRunning StageStatus = "running"
	StageStatusSuccess StageStatus = "success"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)

// StageRun records the execution of one stage within a run.
type StageRun struct {
	ID         string
	RunID      string
	Stage      string
	Status     StageStatus
	RowsIn     int
	RowsOut    int
	DurationMS int64
	Error      string
}

// TableStat records an output table produced by a run.
type TableStat struct {
	TableName   string
	RowCount    int
	Fingerprint string
}
