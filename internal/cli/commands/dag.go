package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starschema/internal/cli/output"
)

// GraphQuerier provides read-only access to DAG structure.
type GraphQuerier interface {
	GetParents(string) []string
	GetChildren(string) []string
	GetRoots() []string
	GetLeaves() []string
	NodeCount() int
	EdgeCount() int
}

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the table dependency graph",
		Long: `Display the dependency graph of the star schema tables.

Tables are grouped by level: dimensions first, then the fact table that
references them through foreign keys.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the DAG
  starschema dag

  # Output as JSON
  starschema dag --output json

  # Output as Markdown
  starschema dag --output markdown`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd)
		},
	}

	return cmd
}

func runDAG(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer

	plan, err := cmdCtx.Engine.Plan()
	if err != nil {
		return fmt.Errorf("failed to plan schema: %w", err)
	}
	graph := plan.Schema.Graph()
	fact := plan.Schema.Fact().Name()

	levels, err := graph.GetExecutionLevels()
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return dagJSON(r, graph, levels, fact)
	case output.ModeMarkdown:
		dagMarkdown(r, graph, levels)
	default:
		dagText(r, graph, levels)
	}
	return nil
}

// dagText outputs DAG in styled text format.
func dagText(r *output.Renderer, graph GraphQuerier, levels [][]string) {
	styles := r.Styles()

	r.Header(1, "Dependency Graph")

	for i, level := range levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, table := range level {
			deps := graph.GetParents(table)
			children := graph.GetChildren(table)

			r.Printf("  %s\n", styles.ID.Render(table))
			if len(deps) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("references:"), strings.Join(deps, ", "))
			}
			if len(children) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("referenced by:"), strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	r.Printf("%s %s\n", styles.Muted.Render("Roots:"), strings.Join(graph.GetRoots(), ", "))
	r.Printf("%s %s\n", styles.Muted.Render("Leaves:"), strings.Join(graph.GetLeaves(), ", "))
	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d tables, %d foreign keys", graph.NodeCount(), graph.EdgeCount())))
}

// dagMarkdown outputs DAG in markdown format.
func dagMarkdown(r *output.Renderer, graph GraphQuerier, levels [][]string) {
	r.Println(output.FormatHeader(1, "Dependency Graph"))
	r.Println("")

	for i, level := range levels {
		levelName := fmt.Sprintf("Level %d", i)
		if i == 0 {
			levelName = "Level 0 (Dimensions)"
		}
		r.Println(output.FormatHeader(2, levelName))

		for _, table := range level {
			deps := graph.GetParents(table)
			children := graph.GetChildren(table)

			r.Printf("- %s\n", table)
			if len(deps) > 0 {
				r.Printf("  - references: %s\n", strings.Join(deps, ", "))
			}
			if len(children) > 0 {
				r.Printf("  - referenced by: %s\n", strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Tables", fmt.Sprintf("%d", graph.NodeCount())))
	r.Println(output.FormatKeyValue("Total Foreign Keys", fmt.Sprintf("%d", graph.EdgeCount())))
	r.Println(output.FormatKeyValue("Roots", strings.Join(graph.GetRoots(), ", ")))
	r.Println(output.FormatKeyValue("Leaves", strings.Join(graph.GetLeaves(), ", ")))
}

// dagJSON outputs DAG in JSON format.
func dagJSON(r *output.Renderer, graph GraphQuerier, levels [][]string, fact string) error {
	dagOutput := output.DAGOutput{
		Levels:      make([]output.DAGLevel, 0, len(levels)),
		Roots:       graph.GetRoots(),
		Leaves:      graph.GetLeaves(),
		TotalTables: graph.NodeCount(),
		TotalEdges:  graph.EdgeCount(),
	}

	for i, level := range levels {
		dagLevel := output.DAGLevel{
			Level:  i,
			Tables: make([]output.DAGNode, 0, len(level)),
		}
		for _, table := range level {
			kind := "dimension"
			if table == fact {
				kind = "fact"
			}
			dagLevel.Tables = append(dagLevel.Tables, output.DAGNode{
				Name:      table,
				Kind:      kind,
				DependsOn: graph.GetParents(table),
				UsedBy:    graph.GetChildren(table),
			})
		}
		dagOutput.Levels = append(dagOutput.Levels, dagLevel)
	}

	return r.JSON(dagOutput)
}
