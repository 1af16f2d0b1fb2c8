package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starschema/internal/cli/output"
	"github.com/leapstack-labs/starschema/internal/engine"
)

// NewSummaryCommand creates the summary command.
func NewSummaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show sales totals from the star schema",
		Long: `Query the star schema for its headline numbers: total sales, sales by
product category, the top products and the monthly sales trend.

Requires a completed run.`,
		Example: `  # Show the summary
  starschema summary

  # As JSON, the same shape as summary.json
  starschema summary --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSummary(cmd)
		},
	}
	return cmd
}

func runSummary(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := cmdCtx.Engine.Summary(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to summarize star schema: %w\nHint: Run 'starschema run' first", err)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(s)
	}
	renderSummary(r, s)
	return nil
}

func renderSummary(r *output.Renderer, s *engine.Summary) {
	r.Header(1, "Sales Summary")
	r.KeyValue("total sales", r.Money(s.TotalSales))
	r.KeyValue("fact rows", r.Number(s.FactRows))
	r.Println("")

	r.Header(2, "By Category")
	rows := make([][]any, 0, len(s.ByCategory))
	for _, c := range s.ByCategory {
		rows = append(rows, []any{c.Category, c.Sales})
	}
	r.Table([]string{"category", "sales"}, rows)
	r.Println("")

	r.Header(2, "Top Products")
	rows = make([][]any, 0, len(s.TopProducts))
	for i, p := range s.TopProducts {
		rows = append(rows, []any{i + 1, p.ProductID, p.ProductName, p.Sales})
	}
	r.Table([]string{"#", "product", "name", "sales"}, rows)
	r.Println("")

	r.Header(2, "Monthly Trend")
	rows = make([][]any, 0, len(s.MonthlyTrend))
	for _, m := range s.MonthlyTrend {
		rows = append(rows, []any{fmt.Sprintf("%04d-%02d", m.Year, m.Month), m.Sales})
	}
	r.Table([]string{"month", "sales"}, rows)
}
