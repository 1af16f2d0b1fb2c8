package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/starschema/internal/cli/config"
	"github.com/leapstack-labs/starschema/internal/cli/output"
	"github.com/leapstack-labs/starschema/internal/cli/testutil"
	intconfig "github.com/leapstack-labs/starschema/internal/config"
	"github.com/leapstack-labs/starschema/internal/engine"
	"github.com/leapstack-labs/starschema/internal/pipeline"
	"github.com/leapstack-labs/starschema/internal/state"
	"github.com/leapstack-labs/starschema/pkg/core"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		name  string
		cmd   *cobra.Command
		use   string
		flags []string
		// shared with subcommands
		persistent []string
	}{
		{name: "run", cmd: NewRunCommand(), use: "run [input.csv]", flags: []string{"dry-run", "json"}},
		{name: "runs", cmd: NewRunsCommand(), use: "runs", flags: []string{"limit"}},
		{name: "stages", cmd: NewStagesCommand(), use: "stages [run-id]"},
		{name: "tables", cmd: NewTablesCommand(), use: "tables [table]", flags: []string{"artifacts"}},
		{name: "dag", cmd: NewDAGCommand(), use: "dag"},
		{name: "query", cmd: NewQueryCommand(), use: "query [SQL]", flags: []string{"file"}, persistent: []string{"format", "history"}},
		{name: "summary", cmd: NewSummaryCommand(), use: "summary"},
		{name: "init", cmd: NewInitCommand(), use: "init [directory]", flags: []string{"force", "example"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			assert.NotEmpty(t, tt.cmd.Long, "Long should not be empty")
			assert.NotEmpty(t, tt.cmd.Example, "Example should not be empty")
			for _, f := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(f), "--%s flag should exist", f)
			}
			for _, f := range tt.persistent {
				assert.NotNil(t, tt.cmd.PersistentFlags().Lookup(f), "--%s persistent flag should exist", f)
			}
		})
	}
}

func TestRunCommandAlias(t *testing.T) {
	assert.Contains(t, NewRunCommand().Aliases, "build")
}

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  func(t *testing.T, dir string)
		args      []string
		wantErr   bool
		wantFiles []string
	}{
		{
			name:      "init empty directory",
			args:      []string{},
			wantFiles: []string{intconfig.ConfigFileName, ".gitignore"},
		},
		{
			name:      "init with example",
			args:      []string{"--example"},
			wantFiles: []string{intconfig.ConfigFileName, ".gitignore", "data/superstore.csv"},
		},
		{
			name: "init existing config without force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, intconfig.ConfigFileName), []byte("existing"), 0600)
			},
			args:    []string{},
			wantErr: true,
		},
		{
			name: "init existing config with force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, intconfig.ConfigFileName), []byte("existing"), 0600)
			},
			args:      []string{"--force"},
			wantFiles: []string{intconfig.ConfigFileName},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			if tt.setupDir != nil {
				tt.setupDir(t, tmpDir)
			}

			cmd := NewInitCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(append([]string{tmpDir}, tt.args...))

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			for _, f := range tt.wantFiles {
				_, err := os.Stat(filepath.Join(tmpDir, f))
				assert.False(t, os.IsNotExist(err), "expected file %q to exist", f)
			}
		})
	}
}

func TestInitCreatesLoadableConfig(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := NewInitCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{tmpDir, "--example"})
	require.NoError(t, cmd.Execute())

	content, err := os.ReadFile(filepath.Join(tmpDir, intconfig.ConfigFileName))
	require.NoError(t, err)
	for _, expected := range []string{"input: data/superstore.csv", "output_dir: out", "state_path:"} {
		assert.Contains(t, string(content), expected)
	}

	cfg, err := intconfig.LoadFromDir(tmpDir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.NoError(t, cfg.Validate())

	data, err := os.ReadFile(filepath.Join(tmpDir, "data", "superstore.csv"))
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleCSV, string(data))
}

func TestTemplateFiles(t *testing.T) {
	files, err := listTemplateFiles("example")
	require.NoError(t, err)
	assert.Contains(t, files, ".gitignore")

	groups := groupTemplateFiles(files)
	assert.Equal(t, []string{"data/superstore.csv"}, groups["data"])
	assert.Contains(t, groups["config"], intconfig.ConfigFileName)
}

// fakeGraph is a fixed star: two dimensions referenced by one fact.
type fakeGraph struct{}

func (fakeGraph) GetParents(id string) []string {
	if id == "fact_sales" {
		return []string{"dim_customer", "dim_date"}
	}
	return nil
}

func (fakeGraph) GetChildren(id string) []string {
	if id == "fact_sales" {
		return nil
	}
	return []string{"fact_sales"}
}

func (fakeGraph) GetRoots() []string { return []string{"dim_customer", "dim_date"} }
func (fakeGraph) GetLeaves() []string { return []string{"fact_sales"} }
func (fakeGraph) NodeCount() int { return 3 }
func (fakeGraph) EdgeCount() int { return 2 }

var fakeLevels = [][]string{{"dim_customer", "dim_date"}, {"fact_sales"}}

func TestDAGMarkdown(t *testing.T) {
	tr := testutil.NewTestRendererMarkdown()
	dagMarkdown(tr.Renderer, fakeGraph{}, fakeLevels)

	out := tr.Output()
	testutil.AssertNoANSI(t, out)
	testutil.AssertValidMarkdown(t, out)
	assert.Contains(t, out, "# Dependency Graph")
	assert.Contains(t, out, "## Level 0 (Dimensions)")
	assert.Contains(t, out, "- fact_sales")
	assert.Contains(t, out, "  - references: dim_customer, dim_date")
	assert.Contains(t, out, "- **Total Tables**: 3")
	assert.Contains(t, out, "- **Roots**: dim_customer, dim_date")
	assert.Contains(t, out, "- **Leaves**: fact_sales")
}

func TestDAGText(t *testing.T) {
	tr := testutil.NewTestRenderer(output.ModeText, false)
	dagText(tr.Renderer, fakeGraph{}, fakeLevels)

	out := tr.Output()
	testutil.AssertNoANSI(t, out)
	assert.Contains(t, out, "Level 1:")
	assert.Contains(t, out, "referenced by: fact_sales")
	assert.Contains(t, out, "Roots: dim_customer, dim_date")
	assert.Contains(t, out, "Leaves: fact_sales")
	assert.Contains(t, out, "Total: 3 tables, 2 foreign keys")
}

func TestDAGJSON(t *testing.T) {
	tr := testutil.NewTestRendererJSON()
	require.NoError(t, dagJSON(tr.Renderer, fakeGraph{}, fakeLevels, "fact_sales"))

	assert.JSONEq(t, `{
		"levels": [
			{"level": 0, "tables": [
				{"name": "dim_customer", "kind": "dimension", "used_by": ["fact_sales"]},
				{"name": "dim_date", "kind": "dimension", "used_by": ["fact_sales"]}
			]},
			{"level": 1, "tables": [
				{"name": "fact_sales", "kind": "fact", "depends_on": ["dim_customer", "dim_date"]}
			]}
		],
		"roots": ["dim_customer", "dim_date"],
		"leaves": ["fact_sales"],
		"total_tables": 3,
		"total_edges": 2
	}`, tr.Output())
}

func TestRenderSummary(t *testing.T) {
	tr := testutil.NewTestRenderer(output.ModeText, false)
	renderSummary(tr.Renderer, &engine.Summary{
		TotalSales: 2631.9775,
		FactRows:   5,
		ByCategory: []engine.CategorySales{
			{Category: "Furniture", Sales: 1951.4775},
			{Category: "Office Supplies", Sales: 680.5},
		},
		TopProducts: []engine.ProductSales{
			{ProductID: "FUR-TA-10000577", ProductName: "Bretford CR4500 Series Slim Rectangular Table", Sales: 957.5775},
		},
		MonthlyTrend: []engine.MonthlySales{{Year: 2016, Month: 11, Sales: 993.9}},
	})

	out := tr.Output()
	testutil.AssertNoANSI(t, out)
	assert.Contains(t, out, "Sales Summary")
	assert.Contains(t, out, "2,631.98")
	assert.Contains(t, out, "Furniture")
	assert.Contains(t, out, "FUR-TA-10000577")
	assert.Contains(t, out, "2016-11")
}

func TestQueryFormat(t *testing.T) {
	tests := []struct {
		name   string
		format string
		mode   output.OutputMode
		want   string
	}{
		{name: "explicit wins", format: "CSV", mode: output.ModeJSON, want: FormatCSV},
		{name: "json mode", mode: output.ModeJSON, want: FormatJSON},
		{name: "markdown mode", mode: output.ModeMarkdown, want: FormatMarkdown},
		{name: "text mode", mode: output.ModeText, want: FormatTable},
		{name: "auto without tty", mode: output.ModeAuto, want: FormatMarkdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := testutil.NewTestRenderer(tt.mode, false)
			assert.Equal(t, tt.want, queryFormat(tt.format, tr.Renderer))
		})
	}
}

func TestRenderCSVEscapes(t *testing.T) {
	var buf bytes.Buffer
	err := renderCSV(&buf, []string{"id", "name"}, []map[string]any{
		{"id": int64(1), "name": `Stur-D-Stor Shelving, Vertical 5-Shelf`},
		{"id": int64(2), "name": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,\"Stur-D-Stor Shelving, Vertical 5-Shelf\"\n2,NULL\n", buf.String())
}

func TestRenderTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTable(&buf, []string{"a"}, nil, false))
	assert.Equal(t, "(0 rows)\n", buf.String())
}

func TestRenderJSONEmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderJSON(&buf, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestStageDetail(t *testing.T) {
	tr := testutil.NewTestRenderer(output.ModeText, false)
	assert.Empty(t, stageDetail(tr.Renderer, pipelineEvent("running")))
	assert.Contains(t, stageDetail(tr.Renderer, pipelineEvent("success")), "1,200 → 1,150 rows")
}

func pipelineEvent(status string) pipeline.StageEvent {
	return pipeline.StageEvent{
		Stage:    "clean",
		Status:   core.StageStatus(status),
		RowsIn:   1200,
		RowsOut:  1150,
		Duration: 12 * time.Millisecond,
	}
}

func TestEnsureParentDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ensureParentDir(filepath.Join(dir, "a", "b", "state.db")))
	info, err := os.Stat(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.NoError(t, ensureParentDir(""))
	assert.NoError(t, ensureParentDir(":memory:"))
}

func TestStateBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(path))
	require.NoError(t, store.InitSchema())
	_, err := store.CreateRun(context.Background(), "data/superstore.csv")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	cfg := config.DefaultConfig()
	cfg.StatePath = path
	b, err := stateBackend(cfg)
	require.NoError(t, err)
	defer func() { _ = b.close() }()

	rows, err := b.query(context.Background(), "SELECT input FROM runs")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var input string
	require.NoError(t, rows.Scan(&input))
	assert.Equal(t, "data/superstore.csv", input)

	tables, err := b.query(context.Background(), b.tablesSQL)
	require.NoError(t, err)
	var names []string
	for tables.Next() {
		var schema, name, kind string
		require.NoError(t, tables.Scan(&schema, &name, &kind))
		names = append(names, name)
	}
	require.NoError(t, tables.Close())
	assert.Contains(t, names, "runs")
	assert.Contains(t, names, "stage_runs")
}

func TestStateBackendMissing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StatePath = filepath.Join(t.TempDir(), "missing.db")
	_, err := stateBackend(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state database not found")
}
