package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/starschema/internal/star"
	"github.com/leapstack-labs/starschema/pkg/adapter"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// ArtifactsDir is the subdirectory of the output directory holding the
// normalization artifacts.
const ArtifactsDir = "artifacts"

// Export writes the star schema to the target database in dependency order
// and then copies the configured file formats into the output directory.
// It returns the written file paths, sorted.
func (e *Engine) Export(ctx context.Context, schema *star.Schema) ([]string, error) {
	target, err := e.ensureTarget(ctx)
	if err != nil {
		return nil, err
	}

	tables := schema.Tables()
	for _, t := range tables {
		if err := target.WriteTable(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", t.Name(), err)
		}
		e.logger.Debug("table exported", "table", t.Name(), "rows", t.Len())
	}

	if len(e.cfg.Export.Formats) == 0 {
		return nil, nil
	}
	if e.cfg.OutputDir == "" {
		return nil, fmt.Errorf("file export requires an output directory")
	}

	var jobs []exportJob
	for _, t := range tables {
		jobs = append(jobs, e.jobsFor(t, e.cfg.OutputDir, false)...)
	}
	if e.cfg.Export.Artifacts {
		dir := filepath.Join(e.cfg.OutputDir, ArtifactsDir)
		for _, t := range schema.Artifacts() {
			jobs = append(jobs, e.jobsFor(t, dir, true)...)
		}
	}
	return e.exportFiles(ctx, jobs)
}

type exportJob struct {
	table    *core.Table
	format   adapter.FileFormat
	path     string
	artifact bool
}

func (e *Engine) jobsFor(t *core.Table, dir string, artifact bool) []exportJob {
	jobs := make([]exportJob, 0, len(e.cfg.Export.Formats))
	for _, f := range e.cfg.Export.Formats {
		jobs = append(jobs, exportJob{
			table:    t,
			format:   f,
			path:     filepath.Join(dir, t.Name()+"."+string(f)),
			artifact: artifact,
		})
	}
	return jobs
}

// exportFiles stages every table in the working DuckDB database and copies
// them out concurrently.
func (e *Engine) exportFiles(ctx context.Context, jobs []exportJob) ([]string, error) {
	src, err := e.ensureSource(ctx)
	if err != nil {
		return nil, err
	}
	exporter, ok := src.(adapter.FileExporter)
	if !ok {
		return nil, fmt.Errorf("source database cannot export files")
	}

	staged := make(map[string]bool)
	for _, j := range jobs {
		if staged[j.table.Name()] {
			continue
		}
		// When no target is configured the star tables are already there.
		if e.cfg.Target != nil || j.artifact {
			if err := src.WriteTable(ctx, j.table); err != nil {
				return nil, fmt.Errorf("failed to stage %s: %w", j.table.Name(), err)
			}
		}
		staged[j.table.Name()] = true
		if err := os.MkdirAll(filepath.Dir(j.path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var (
		mu    sync.Mutex
		files []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Export.Concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			if err := exporter.ExportTable(gctx, j.table.Name(), j.path, j.format); err != nil {
				return err
			}
			mu.Lock()
			files = append(files, j.path)
			mu.Unlock()
			e.logger.Debug("file written", "table", j.table.Name(), "path", j.path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
