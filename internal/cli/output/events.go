package output

import (
	"encoding/json"
	"io"
)

// Run event names emitted by `run --json`.
const (
	EventRunStart      = "run_start"
	EventStageStart    = "stage_start"
	EventStageComplete = "stage_complete"
	EventRunComplete   = "run_complete"
)

// RunEvent is one JSON line of run progress.
type RunEvent struct {
	Event      string         `json:"event"`
	RunID      string         `json:"run_id,omitempty"`
	Input      string         `json:"input,omitempty"`
	Stages     []string       `json:"stages,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	Status     string         `json:"status,omitempty"`
	RowsIn     int            `json:"rows_in,omitempty"`
	RowsOut    int            `json:"rows_out,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Tables     map[string]int `json:"tables,omitempty"`
	Files      []string       `json:"files,omitempty"`
	Skipped    int            `json:"skipped,omitempty"`
	Warnings   int            `json:"warnings,omitempty"`
}

// EmitEvent writes ev as a single JSON line.
func EmitEvent(w io.Writer, ev RunEvent) error {
	return json.NewEncoder(w).Encode(ev)
}

// DAGOutput is the JSON shape of the table dependency graph. Roots are the
// tables that reference nothing, Leaves the ones nothing references.
type DAGOutput struct {
	Levels      []DAGLevel `json:"levels"`
	Roots       []string   `json:"roots"`
	Leaves      []string   `json:"leaves"`
	TotalTables int        `json:"total_tables"`
	TotalEdges  int        `json:"total_edges"`
}

// DAGLevel groups tables that only depend on earlier levels.
type DAGLevel struct {
	Level  int       `json:"level"`
	Tables []DAGNode `json:"tables"`
}

// DAGNode is one table of the graph.
type DAGNode struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	DependsOn []string `json:"depends_on,omitempty"`
	UsedBy    []string `json:"used_by,omitempty"`
}
