package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/starschema/internal/pipeline"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// ManifestFile is the manifest file name inside the output directory.
const ManifestFile = "manifest.yaml"

// Manifest describes the output of one run.
type Manifest struct {
	RunID            string          `yaml:"run_id"`
	Input            string          `yaml:"input"`
	InputFingerprint string          `yaml:"input_fingerprint"`
	GeneratedAt      time.Time       `yaml:"generated_at"`
	Rows             ManifestRows    `yaml:"rows"`
	Warnings         map[string]int  `yaml:"warnings,omitempty"`
	Tables           []ManifestTable `yaml:"tables"`
	Artifacts        []ManifestTable `yaml:"artifacts,omitempty"`
	Files            []string        `yaml:"files,omitempty"`
	Stages           []ManifestStage `yaml:"stages"`
}

// ManifestRows holds the cleaning counters.
type ManifestRows struct {
	Total      int            `yaml:"total"`
	Clean      int            `yaml:"clean"`
	Skipped    int            `yaml:"skipped"`
	SkippedBy  map[string]int `yaml:"skipped_by_reason,omitempty"`
	Duplicates int            `yaml:"duplicates"`
}

// ManifestTable describes one output table.
type ManifestTable struct {
	Name        string           `yaml:"name"`
	Rows        int              `yaml:"rows"`
	Fingerprint string           `yaml:"fingerprint"`
	Columns     []ManifestColumn `yaml:"columns"`
}

// ManifestColumn describes one column of an output table.
type ManifestColumn struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Key        bool   `yaml:"key,omitempty"`
	References string `yaml:"references,omitempty"`
}

// ManifestStage is the timing of one pipeline stage.
type ManifestStage struct {
	Name       string `yaml:"name"`
	RowsIn     int    `yaml:"rows_in"`
	RowsOut    int    `yaml:"rows_out"`
	DurationMS int64  `yaml:"duration_ms"`
}

// NewManifest builds the manifest of a finished pipeline run.
func NewManifest(run *core.Run, res *pipeline.Result, files []string, at time.Time) *Manifest {
	rep := res.Report
	m := &Manifest{
		RunID:            run.ID,
		Input:            run.Input,
		InputFingerprint: run.InputFingerprint,
		GeneratedAt:      at.UTC(),
		Rows: ManifestRows{
			Total:      rep.Total,
			Clean:      rep.Clean,
			Skipped:    rep.Skipped,
			SkippedBy:  rep.SkippedByReason,
			Duplicates: rep.Duplicates,
		},
		Files: files,
	}
	for entity, n := range rep.Warnings {
		if n > 0 {
			if m.Warnings == nil {
				m.Warnings = make(map[string]int)
			}
			m.Warnings[entity] = n
		}
	}
	for _, st := range rep.Stages {
		m.Stages = append(m.Stages, ManifestStage{
			Name:       st.Stage,
			RowsIn:     st.RowsIn,
			RowsOut:    st.RowsOut,
			DurationMS: st.Duration.Milliseconds(),
		})
	}
	if res.Schema != nil {
		m.Tables = manifestTables(res.Schema.Tables())
		m.Artifacts = manifestTables(res.Schema.Artifacts())
	}
	return m
}

func manifestTables(tables []*core.Table) []ManifestTable {
	out := make([]ManifestTable, len(tables))
	for i, t := range tables {
		cols := make([]ManifestColumn, len(t.Columns()))
		for j, c := range t.Columns() {
			cols[j] = ManifestColumn{Name: c.Name, Type: string(c.Type), Key: c.Key, References: c.References}
		}
		out[i] = ManifestTable{Name: t.Name(), Rows: t.Len(), Fingerprint: Fingerprint(t), Columns: cols}
	}
	return out
}

// WriteManifest writes m as YAML into dir.
func WriteManifest(dir string, m *Manifest) (string, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // output directory is configuration
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}
