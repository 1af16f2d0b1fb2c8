package engine

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/starschema/internal/pipeline"
	"github.com/leapstack-labs/starschema/internal/testutil"
	"github.com/leapstack-labs/starschema/pkg/adapter"
	"github.com/leapstack-labs/starschema/pkg/core"
)

var header = []string{
	"Row ID", "Order ID", "Order Date", "Ship Date", "Ship Mode", "Customer ID", "Customer Name",
	"Segment", "Country", "City", "State", "Postal Code", "Region", "Product ID", "Category",
	"Sub-Category", "Product Name", "Sales", "Quantity",
}

var sampleRows = [][]string{
	{"CA-2016-152156", "08/11/2016", "11/11/2016", "Second Class", "CG-12520", "Claire Gute", "Consumer", "United States", "Henderson", "Kentucky", "42420", "South", "FUR-BO-10001798", "Furniture", "Bookcases", "Bush Somerset Collection Bookcase", "261.96", "2"},
	{"CA-2016-152156", "08/11/2016", "11/11/2016", "Second Class", "CG-12520", "Claire Gute", "Consumer", "United States", "Henderson", "Kentucky", "42420", "South", "FUR-CH-10000454", "Furniture", "Chairs", "Hon Deluxe Fabric Upholstered Stacking Chairs", "731.94", "3"},
	{"CA-2016-138688", "12/06/2016", "16/06/2016", "Second Class", "DV-13045", "Darrin Van Huff", "Corporate", "United States", "Los Angeles", "California", "90036", "West", "OFF-LA-10000240", "Office Supplies", "Labels", "Self-Adhesive Address Labels", "14.62", "2"},
	{"US-2015-108966", "11/10/2015", "18/10/2015", "Standard Class", "SO-20335", "Sean O'Donnell", "Consumer", "United States", "Fort Lauderdale", "Florida", "33311", "South", "FUR-TA-10000577", "Furniture", "Tables", "Bretford CR4500 Series Slim Rectangular Table", "957.5775", "5"},
	{"CA-2014-105893", "11/11/2014", "16/11/2014", "Standard Class", "PK-19075", "Pete Kriz", "Consumer", "United States", "Burlington", "Vermont", "5401", "East", "OFF-ST-10004186", "Office Supplies", "Storage", "Stur-D-Stor Shelving, Vertical 5-Shelf", "665.88", "6"},
	{"CA-2016-152156", "08/11/2016", "11/11/2016", "Second Class", "CG-12520", "Claire Gute", "Consumer", "United States", "Henderson", "Kentucky", "42420", "South", "FUR-BO-10001798", "Furniture", "Bookcases", "Bush Somerset Collection Bookcase", "261.96", "2"},
}

func writeCSV(t *testing.T, dir string, header []string, rows [][]string) string {
	t.Helper()
	path := filepath.Join(dir, "orders.csv")
	f, err := os.Create(path) //nolint:gosec // test file
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	for i, r := range rows {
		rec := r
		if header[0] == "Row ID" {
			rec = append([]string{fmt.Sprint(i + 1)}, r...)
		}
		require.NoError(t, w.Write(rec))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return path
}

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		StatePath: filepath.Join(dir, "state.db"),
		Target:    &core.TargetConfig{Type: "duckdb", Database: filepath.Join(dir, "star.duckdb")},
		OutputDir: filepath.Join(dir, "out"),
		Export: ExportConfig{
			Formats:  []adapter.FileFormat{adapter.FormatCSV},
			Manifest: true,
			Summary:  true,
		},
		Pipeline: pipeline.DefaultOptions(),
		Logger:   testutil.NewTestLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestEngine_Load(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)
	path := writeCSV(t, t.TempDir(), header, sampleRows)

	records, err := eng.Load(ctx, path)
	require.NoError(t, err)
	require.Len(t, records, len(sampleRows))

	first := records[0]
	assert.Equal(t, 1, first.Line)
	assert.Equal(t, "1", first.RowID)
	assert.Equal(t, "CA-2016-152156", first.OrderID)
	assert.Equal(t, "Bookcases", first.SubCategory)
	assert.Equal(t, "5401", records[4].PostalCode, "values stay text")
}

func TestEngine_Load_MissingColumn(t *testing.T) {
	eng := newTestEngine(t, nil)
	path := writeCSV(t, t.TempDir(), header[:len(header)-2], [][]string{sampleRows[0][:len(sampleRows[0])-2]})

	_, err := eng.Load(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInput)

	var sm *core.SchemaMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, []string{core.ColSales}, sm.Missing)
	assert.Equal(t, path, sm.Source)
}

func TestEngine_Run(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)
	path := writeCSV(t, t.TempDir(), header, sampleRows)

	var events []pipeline.StageEvent
	res, err := eng.Run(ctx, RunOptions{Input: path, OnStage: func(ev pipeline.StageEvent) {
		events = append(events, ev)
	}})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, core.RunStatusCompleted, run.Status)
	assert.Equal(t, 6, run.TotalRows)
	assert.Equal(t, 5, run.CleanRows)
	assert.Equal(t, 1, run.DuplicateRows)
	assert.NotEmpty(t, run.InputFingerprint)
	assert.Len(t, events, 2*len(RunStages))

	stored, err := eng.GetStateStore().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, stored.Status)
	assert.Equal(t, run.InputFingerprint, stored.InputFingerprint)

	stages, err := eng.GetStateStore().GetStagesForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stages, len(RunStages))
	for i, st := range stages {
		assert.Equal(t, RunStages[i], st.Stage)
		assert.Equal(t, core.StageStatusSuccess, st.Status, st.Stage)
	}

	stats, err := eng.GetStateStore().GetTableStats(ctx, run.ID)
	require.NoError(t, err)
	rows := map[string]int{}
	for _, st := range stats {
		rows[st.TableName] = st.RowCount
	}
	assert.Equal(t, 5, rows[core.TableFactSales])
	assert.Equal(t, 4, rows[core.TableDimCustomer])
	assert.Equal(t, 2, rows[core.TableDimShipMode])

	// Files, manifest and summary land in the output directory.
	assert.FileExists(t, filepath.Join(eng.cfg.OutputDir, core.TableFactSales+".csv"))
	assert.FileExists(t, filepath.Join(eng.cfg.OutputDir, SummaryFile))
	m, err := ReadManifest(eng.cfg.OutputDir)
	require.NoError(t, err)
	assert.Equal(t, run.ID, m.RunID)
	assert.Equal(t, 5, m.Rows.Clean)
	require.NotEmpty(t, m.Tables)
	assert.Equal(t, core.TableFactSales, m.Tables[len(m.Tables)-1].Name)

	require.NotNil(t, res.Summary)
	assert.InDelta(t, 261.96+731.94+14.62+957.5775+665.88, res.Summary.TotalSales, 1e-6)
	assert.Equal(t, int64(5), res.Summary.FactRows)
	require.NotEmpty(t, res.Summary.ByCategory)
	assert.Equal(t, "Furniture", res.Summary.ByCategory[0].Category)
	assert.Len(t, res.Summary.MonthlyTrend, 4)

	// The star schema is queryable in the target.
	rs, err := eng.Query(ctx, `SELECT postal_code FROM dim_region WHERE city = 'Burlington'`)
	require.NoError(t, err)
	defer func() { _ = rs.Close() }()
	require.True(t, rs.Next())
	var postal string
	require.NoError(t, rs.Scan(&postal))
	assert.Equal(t, "05401", postal)
}

func TestEngine_Run_RulesWithoutTable(t *testing.T) {
	ctx := context.Background()
	rules := core.DefaultDependencyRules()
	for i := range rules {
		rules[i].Table = ""
	}
	eng := newTestEngine(t, func(c *Config) { c.Pipeline.Dependencies = rules })
	path := writeCSV(t, t.TempDir(), header, sampleRows)

	res, err := eng.Run(ctx, RunOptions{Input: path})
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, res.Run.Status)
	assert.FileExists(t, filepath.Join(eng.cfg.OutputDir, core.TableDimDate+".csv"))

	require.NotNil(t, res.Summary)
	assert.Len(t, res.Summary.MonthlyTrend, 4)
}

func TestEngine_Run_Idempotent(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)
	path := writeCSV(t, t.TempDir(), header, sampleRows)

	first, err := eng.Run(ctx, RunOptions{Input: path})
	require.NoError(t, err)
	second, err := eng.Run(ctx, RunOptions{Input: path})
	require.NoError(t, err)

	assert.NotEqual(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, first.Run.InputFingerprint, second.Run.InputFingerprint)
	assert.Equal(t, first.Tables, second.Tables)
	assert.Empty(t, second.Changed)
}

func TestEngine_Run_DryRun(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)
	path := writeCSV(t, t.TempDir(), header, sampleRows)

	res, err := eng.Run(ctx, RunOptions{Input: path, DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, res.Files)
	assert.NoDirExists(t, eng.cfg.OutputDir)

	stages, err := eng.GetStateStore().GetStagesForRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StageStatusSkipped, stages[len(stages)-1].Status)
}

func TestEngine_Run_Failures(t *testing.T) {
	tests := []struct {
		name        string
		header      []string
		rows        [][]string
		wantIs      error
		failedStage string
	}{
		{
			name:        "missing column",
			header:      header[:len(header)-2],
			rows:        [][]string{sampleRows[0][:len(sampleRows[0])-2]},
			wantIs:      core.ErrInput,
			failedStage: StageLoad,
		},
		{
			name:   "skip rate exceeded",
			header: header,
			rows: [][]string{
				sampleRows[0],
				append(append([]string{}, sampleRows[1][:10]...), append([]string{"ABCDE"}, sampleRows[1][11:]...)...),
			},
			wantIs:      core.ErrInput,
			failedStage: pipeline.StageClean,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			eng := newTestEngine(t, nil)
			path := writeCSV(t, t.TempDir(), tt.header, tt.rows)

			res, err := eng.Run(ctx, RunOptions{Input: path})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantIs), "got %v", err)
			assert.Equal(t, core.RunStatusFailed, res.Run.Status)

			stored, err := eng.GetStateStore().GetRun(ctx, res.Run.ID)
			require.NoError(t, err)
			assert.Equal(t, core.RunStatusFailed, stored.Status)
			assert.NotEmpty(t, stored.Error)

			stages, err := eng.GetStateStore().GetStagesForRun(ctx, res.Run.ID)
			require.NoError(t, err)
			failed := false
			for _, st := range stages {
				switch {
				case st.Stage == tt.failedStage:
					assert.Equal(t, core.StageStatusFailed, st.Status)
					failed = true
				case failed:
					assert.Equal(t, core.StageStatusSkipped, st.Status, st.Stage)
				default:
					assert.Equal(t, core.StageStatusSuccess, st.Status, st.Stage)
				}
			}
			assert.True(t, failed)
			assert.NoFileExists(t, filepath.Join(eng.cfg.OutputDir, ManifestFile))
		})
	}
}

func TestEngine_Run_Artifacts(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, func(c *Config) {
		c.Target = nil
		c.Export.Artifacts = true
		c.Export.Summary = false
		c.Export.Formats = []adapter.FileFormat{adapter.FormatCSV, adapter.FormatParquet}
	})
	path := writeCSV(t, t.TempDir(), header, sampleRows)

	res, err := eng.Run(ctx, RunOptions{Input: path})
	require.NoError(t, err)

	dir := filepath.Join(eng.cfg.OutputDir, ArtifactsDir)
	assert.FileExists(t, filepath.Join(dir, core.TableRaw+".csv"))
	assert.FileExists(t, filepath.Join(dir, core.ArtifactPrefix2NF+"customer.parquet"))
	assert.FileExists(t, filepath.Join(eng.cfg.OutputDir, core.TableDimDate+".parquet"))
	assert.Len(t, res.Files, 2*(len(res.Pipeline.Schema.Tables())+len(res.Pipeline.Schema.Artifacts())))
}

func TestEngine_Plan(t *testing.T) {
	eng := newTestEngine(t, nil)
	res, err := eng.Plan()
	require.NoError(t, err)

	parents := res.Schema.Graph().GetParents(core.TableFactSales)
	assert.ElementsMatch(t, []string{
		core.TableDimCustomer, core.TableDimDate, core.TableDimProduct,
		core.TableDimRegion, core.TableDimShipMode,
	}, parents)
	for _, tbl := range res.Schema.Tables() {
		assert.Zero(t, tbl.Len(), tbl.Name())
	}
}

func TestFingerprint(t *testing.T) {
	cols := []core.TableColumn{
		{Name: "k", Type: core.TypeInteger},
		{Name: "v", Type: core.TypeText},
	}
	a := core.NewTable("a", cols...)
	a.Append(int64(1), "x")
	b := core.NewTable("b", cols...)
	b.Append(int64(1), "x")
	c := core.NewTable("c", cols...)
	c.Append(int64(1), nil)
	d := core.NewTable("d", cols...)
	d.Append(int64(1), "")

	assert.Equal(t, Fingerprint(a), Fingerprint(b), "name does not matter")
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
	assert.NotEqual(t, Fingerprint(c), Fingerprint(d), "nil differs from empty")
	assert.Len(t, Fingerprint(a), 64)
}
