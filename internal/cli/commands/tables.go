package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starschema/internal/cli/output"
	"github.com/leapstack-labs/starschema/internal/state"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// TableInfo is the JSON shape of a table listing entry.
type TableInfo struct {
	Name     string       `json:"name"`
	Kind     string       `json:"kind"`
	Rows     *int         `json:"rows,omitempty"`
	Columns  []ColumnInfo `json:"columns,omitempty"`
	Artifact bool         `json:"artifact,omitempty"`
}

// ColumnInfo is the JSON shape of a table column.
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Key        bool   `json:"key,omitempty"`
	References string `json:"references,omitempty"`
}

// NewTablesCommand creates the tables command.
func NewTablesCommand() *cobra.Command {
	var artifacts bool

	cmd := &cobra.Command{
		Use:   "tables [table]",
		Short: "List the output tables",
		Long: `List the star schema tables with their row counts from the latest
completed run. With a table name, show that table's columns.`,
		Example: `  # List star tables
  starschema tables

  # Include the 1NF/2NF/3NF artifacts
  starschema tables --artifacts

  # Show the columns of the fact table
  starschema tables fact_sales`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runTableDetail(cmd, args[0])
			}
			return runTables(cmd, artifacts)
		},
	}

	cmd.Flags().BoolVar(&artifacts, "artifacts", false, "Include normalization artifacts")
	return cmd
}

// latestCounts returns the row counts of the latest completed run, or nil
// when nothing has run yet.
func latestCounts(cmd *cobra.Command, store core.Store) (map[string]int, error) {
	run, err := store.GetLatestRun(cmd.Context(), core.RunStatusCompleted)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	stats, err := store.GetTableStats(cmd.Context(), run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get table stats: %w", err)
	}
	counts := make(map[string]int, len(stats))
	for _, s := range stats {
		counts[s.TableName] = s.RowCount
	}
	return counts, nil
}

func tableKind(t *core.Table, fact string) string {
	if t.Name() == fact {
		return "fact"
	}
	return "dimension"
}

func runTables(cmd *cobra.Command, withArtifacts bool) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	plan, err := cmdCtx.Engine.Plan()
	if err != nil {
		return err
	}
	counts, err := latestCounts(cmd, cmdCtx.Engine.GetStateStore())
	if err != nil {
		return err
	}

	schema := plan.Schema
	fact := schema.Fact().Name()
	var infos []TableInfo
	for _, t := range schema.Tables() {
		infos = append(infos, tableInfo(t, tableKind(t, fact), false, counts, false))
	}
	if withArtifacts {
		for _, t := range schema.Artifacts() {
			infos = append(infos, tableInfo(t, "artifact", true, counts, false))
		}
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(infos)
	}

	r.Header(1, "Tables")
	rows := make([][]any, 0, len(infos))
	for _, info := range infos {
		var count any = "-"
		if info.Rows != nil {
			count = *info.Rows
		}
		rows = append(rows, []any{info.Name, info.Kind, len(schemaColumns(schema, info.Name)), count})
	}
	r.Table([]string{"table", "kind", "columns", "rows"}, rows)
	if counts == nil {
		r.Println(r.Muted("No completed run yet. Row counts appear after 'starschema run'."))
	}
	return nil
}

func runTableDetail(cmd *cobra.Command, name string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	plan, err := cmdCtx.Engine.Plan()
	if err != nil {
		return err
	}
	schema := plan.Schema
	t, ok := schema.Table(name)
	if !ok {
		return fmt.Errorf("table %q not found\nHint: Run 'starschema tables --artifacts' to list tables", name)
	}
	counts, err := latestCounts(cmd, cmdCtx.Engine.GetStateStore())
	if err != nil {
		return err
	}

	_, star := schemaTable(schema.Tables(), name)
	kind := "artifact"
	if star {
		kind = tableKind(t, schema.Fact().Name())
	}
	info := tableInfo(t, kind, !star, counts, true)

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(info)
	}

	r.Header(1, info.Name)
	r.KeyValue("kind", info.Kind)
	if info.Rows != nil {
		r.KeyValue("rows", *info.Rows)
	}
	r.Println("")

	rows := make([][]any, 0, len(info.Columns))
	for _, c := range info.Columns {
		key := ""
		if c.Key {
			key = "PK"
		} else if c.References != "" {
			key = "FK → " + c.References
		}
		rows = append(rows, []any{c.Name, c.Type, key})
	}
	r.Table([]string{"column", "type", "key"}, rows)
	return nil
}

func tableInfo(t *core.Table, kind string, artifact bool, counts map[string]int, withColumns bool) TableInfo {
	info := TableInfo{Name: t.Name(), Kind: kind, Artifact: artifact}
	if n, ok := counts[t.Name()]; ok {
		info.Rows = &n
	}
	if withColumns {
		for _, c := range t.Columns() {
			info.Columns = append(info.Columns, ColumnInfo{
				Name: c.Name, Type: string(c.Type), Key: c.Key, References: c.References,
			})
		}
	}
	return info
}

func schemaTable(tables []*core.Table, name string) (*core.Table, bool) {
	for _, t := range tables {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

type tableLookup interface {
	Table(name string) (*core.Table, bool)
}

func schemaColumns(schema tableLookup, name string) []core.TableColumn {
	if t, ok := schema.Table(name); ok {
		return t.Columns()
	}
	return nil
}
