package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/leapstack-labs/starschema/internal/pipeline"
	"github.com/leapstack-labs/starschema/pkg/adapter"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// SummaryFile is the summary file name inside the output directory.
const SummaryFile = "summary.json"

// TopProductsLimit bounds the product ranking of the summary.
const TopProductsLimit = 10

// Summary is the headline view of the star schema.
type Summary struct {
	TotalSales   float64         `json:"total_sales"`
	FactRows     int64           `json:"fact_rows"`
	ByCategory   []CategorySales `json:"sales_by_category"`
	TopProducts  []ProductSales  `json:"top_products"`
	MonthlyTrend []MonthlySales  `json:"monthly_trend"`
}

// CategorySales is the sales total of one product category.
type CategorySales struct {
	Category string  `json:"category"`
	Sales    float64 `json:"sales"`
}

// ProductSales is the sales total of one product.
type ProductSales struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Sales       float64 `json:"sales"`
}

// MonthlySales is the sales total of one calendar month by order date.
type MonthlySales struct {
	Year  int64   `json:"year"`
	Month int64   `json:"month"`
	Sales float64 `json:"sales"`
}

// summaryNames are the quoted table and column names the summary joins on.
type summaryNames struct {
	fact, product, productKey, date, dateKey, orderDateKey string
}

func (e *Engine) summaryNames() (summaryNames, error) {
	opts := e.cfg.Pipeline
	entities := opts.Entities
	if entities == nil {
		entities = core.DefaultEntitySpecs()
	}
	rules := opts.Dependencies
	if rules == nil {
		rules = core.DefaultDependencyRules()
	}

	qualify := func(table string) string {
		if e.cfg.Target != nil && e.cfg.Target.Schema != "" {
			return adapter.QuoteIdent(e.cfg.Target.Schema) + "." + adapter.QuoteIdent(table)
		}
		return adapter.QuoteIdent(table)
	}

	n := summaryNames{fact: qualify(core.TableFactSales)}
	idx := slices.IndexFunc(entities, func(s core.EntitySpec) bool { return s.Name == "product" })
	if idx < 0 {
		return n, fmt.Errorf("summary needs a product entity")
	}
	n.product = qualify(entities[idx].TableName())
	n.productKey = adapter.QuoteIdent(entities[idx].ForeignKey)

	idx = slices.IndexFunc(rules, func(r core.DependencyRule) bool {
		return slices.Equal(r.Determinant, []string{core.ColOrderDate})
	})
	if idx < 0 {
		return n, fmt.Errorf("summary needs an order date dimension")
	}
	n.date = qualify(rules[idx].TableName())
	n.dateKey = adapter.QuoteIdent(rules[idx].Dimension + "_key")
	n.orderDateKey = adapter.QuoteIdent(rules[idx].ForeignKey)
	return n, nil
}

// Summary computes total sales, sales by category, the top products and the
// monthly trend from the exported star schema.
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	db, err := e.ensureTarget(ctx)
	if err != nil {
		return nil, err
	}
	n, err := e.summaryNames()
	if err != nil {
		return nil, err
	}

	s := &Summary{}
	err = queryRows(ctx, db,
		fmt.Sprintf(`SELECT COALESCE(SUM(sales_amount), 0), COUNT(*) FROM %s`, n.fact),
		func(scan func(...any) error) error { return scan(&s.TotalSales, &s.FactRows) })
	if err != nil {
		return nil, fmt.Errorf("total sales: %w", err)
	}

	err = queryRows(ctx, db, fmt.Sprintf(`
		SELECT p.category, SUM(f.sales_amount) AS sales
		FROM %s f JOIN %s p ON f.%s = p.%s
		GROUP BY p.category
		ORDER BY sales DESC, p.category`, n.fact, n.product, n.productKey, n.productKey),
		func(scan func(...any) error) error {
			var c CategorySales
			if err := scan(&c.Category, &c.Sales); err != nil {
				return err
			}
			s.ByCategory = append(s.ByCategory, c)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("sales by category: %w", err)
	}

	err = queryRows(ctx, db, fmt.Sprintf(`
		SELECT p.product_id, p.product_name, SUM(f.sales_amount) AS sales
		FROM %s f JOIN %s p ON f.%s = p.%s
		GROUP BY p.product_id, p.product_name
		ORDER BY sales DESC, p.product_id
		LIMIT %d`, n.fact, n.product, n.productKey, n.productKey, TopProductsLimit),
		func(scan func(...any) error) error {
			var p ProductSales
			if err := scan(&p.ProductID, &p.ProductName, &p.Sales); err != nil {
				return err
			}
			s.TopProducts = append(s.TopProducts, p)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}

	err = queryRows(ctx, db, fmt.Sprintf(`
		SELECT d.year, d.month, SUM(f.sales_amount) AS sales
		FROM %s f JOIN %s d ON f.%s = d.%s
		GROUP BY d.year, d.month
		ORDER BY d.year, d.month`, n.fact, n.date, n.orderDateKey, n.dateKey),
		func(scan func(...any) error) error {
			var m MonthlySales
			if err := scan(&m.Year, &m.Month, &m.Sales); err != nil {
				return err
			}
			s.MonthlyTrend = append(s.MonthlyTrend, m)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("monthly trend: %w", err)
	}
	return s, nil
}

func queryRows(ctx context.Context, db adapter.Adapter, sql string, each func(scan func(...any) error) error) error {
	rows, err := db.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := each(rows.Scan); err != nil {
			return err
		}
	}
	return rows.Err()
}

// WriteSummary writes s as indented JSON into dir.
func WriteSummary(dir string, s *Summary) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, SummaryFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	return path, nil
}

// Plan runs the pipeline on no rows. The result carries every table and the
// table dependency graph the configuration produces, without data.
func (e *Engine) Plan() (*pipeline.Result, error) {
	return pipeline.Run(nil, e.cfg.Pipeline)
}
