// Package cleaner turns raw source rows into typed, normalized records.
//
// Bad rows are skipped and counted rather than failing the batch; the run is
// aborted only when the skip rate exceeds Options.MaxSkipRate.
package cleaner

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/leapstack-labs/starschema/pkg/core"
)

// Skip reasons reported in Result.SkippedByReason.
const (
	ReasonFormat     = "format"
	ReasonValidation = "validation"
)

// DefaultMaxSkipRate is the share of rows that may be skipped before the run
// is aborted.
const DefaultMaxSkipRate = 0.05

// DefaultMaxIssues caps the per-row issues kept for reporting.
const DefaultMaxIssues = 100

// Options configures cleaning.
type Options struct {
	DateOrder              DateOrder
	PostalCodeWidth        int
	AllowMissingPostalCode bool
	MaxSkipRate            float64
	MaxIssues              int
	Logger                 *slog.Logger
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		DateOrder:              DayFirst,
		PostalCodeWidth:        DefaultPostalCodeWidth,
		AllowMissingPostalCode: true,
		MaxSkipRate:            DefaultMaxSkipRate,
		MaxIssues:              DefaultMaxIssues,
	}
}

// Issue is a row that was skipped.
type Issue struct {
	Line   int
	Column string
	Reason string
	Err    error
}

// Result is the outcome of Clean.
type Result struct {
	Records         []core.CleanRecord
	Total           int
	Skipped         int
	SkippedByReason map[string]int
	Duplicates      int
	Issues          []Issue
}

// SkipRate returns the skipped share of the input.
func (r *Result) SkipRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Skipped) / float64(r.Total)
}

// CheckColumns verifies that every required column is present in header.
// Header names are matched after folding case, spaces and punctuation.
func CheckColumns(header []string) error {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[core.CanonicalColumnName(h)] = true
	}
	var missing []string
	for _, c := range core.RequiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &core.SchemaMismatchError{Missing: missing}
	}
	return nil
}

// Clean normalizes raw rows, drops exact duplicates and enforces the skip
// threshold. Records keep input order.
func Clean(raw []core.RawRecord, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxIssues == 0 {
		opts.MaxIssues = DefaultMaxIssues
	}

	res := &Result{
		Total:           len(raw),
		SkippedByReason: make(map[string]int),
	}
	records := make([]core.CleanRecord, 0, len(raw))
	for i := range raw {
		rec, err := CleanRecord(&raw[i], opts)
		if err != nil {
			reason := reasonOf(err)
			res.Skipped++
			res.SkippedByReason[reason]++
			if len(res.Issues) < opts.MaxIssues {
				res.Issues = append(res.Issues, issueOf(raw[i].Line, reason, err))
			}
			logger.Debug("skipping row", slog.Int("line", raw[i].Line), slog.String("reason", reason), slog.String("error", err.Error()))
			continue
		}
		records = append(records, rec)
	}

	if res.Total > 0 && res.SkipRate() > opts.MaxSkipRate {
		return nil, &core.DataQualityError{
			Total:     res.Total,
			Skipped:   res.Skipped,
			Threshold: opts.MaxSkipRate,
			ByReason:  res.SkippedByReason,
		}
	}

	res.Records, res.Duplicates = Dedupe(records)
	logger.Info("cleaned input",
		slog.Int("total", res.Total),
		slog.Int("kept", len(res.Records)),
		slog.Int("skipped", res.Skipped),
		slog.Int("duplicates", res.Duplicates))
	return res, nil
}

// CleanRecord normalizes a single row.
func CleanRecord(raw *core.RawRecord, opts Options) (core.CleanRecord, error) {
	rec := core.CleanRecord{Line: raw.Line}

	rec.RowID = int64(raw.Line)
	if s := strings.TrimSpace(raw.RowID); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return rec, &core.FormatError{Line: raw.Line, Column: core.ColRowID, Value: raw.RowID, Reason: "not an integer"}
		}
		rec.RowID = id
	}

	var err error
	if rec.OrderDate, err = parseDateColumn(raw, core.ColOrderDate, opts.DateOrder); err != nil {
		return rec, err
	}
	if rec.ShipDate, err = parseDateColumn(raw, core.ColShipDate, opts.DateOrder); err != nil {
		return rec, err
	}

	for _, f := range []struct {
		column   string
		dst      *string
		required bool
	}{
		{core.ColOrderID, &rec.OrderID, true},
		{core.ColShipMode, &rec.ShipMode, true},
		{core.ColCustomerID, &rec.CustomerID, true},
		{core.ColCustomerName, &rec.CustomerName, false},
		{core.ColSegment, &rec.Segment, false},
		{core.ColCountry, &rec.Country, false},
		{core.ColCity, &rec.City, false},
		{core.ColState, &rec.State, false},
		{core.ColRegion, &rec.Region, false},
		{core.ColProductID, &rec.ProductID, true},
		{core.ColCategory, &rec.Category, false},
		{core.ColSubCategory, &rec.SubCategory, false},
		{core.ColProductName, &rec.ProductName, false},
	} {
		v := NormalizeText(raw.Get(f.column))
		if f.required && v == "" {
			return rec, &core.ValidationError{Line: raw.Line, Column: f.column, Reason: "required value is empty"}
		}
		*f.dst = v
	}

	rec.PostalCode, err = StandardizePostalCode(raw.PostalCode, opts.PostalCodeWidth, opts.AllowMissingPostalCode)
	if err != nil {
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			ve.Line = raw.Line
		}
		return rec, err
	}

	sales := strings.TrimSpace(raw.Sales)
	rec.Sales, err = strconv.ParseFloat(sales, 64)
	if err != nil {
		return rec, &core.FormatError{Line: raw.Line, Column: core.ColSales, Value: raw.Sales, Reason: "not a decimal number"}
	}
	if math.IsNaN(rec.Sales) || math.IsInf(rec.Sales, 0) {
		return rec, &core.ValidationError{Line: raw.Line, Column: core.ColSales, Value: raw.Sales, Reason: "must be finite"}
	}

	if q := strings.TrimSpace(raw.Quantity); q != "" {
		n, err := parseQuantity(q)
		if err != nil {
			return rec, &core.FormatError{Line: raw.Line, Column: core.ColQuantity, Value: raw.Quantity, Reason: "not an integer"}
		}
		rec.Quantity = &n
	}
	return rec, nil
}

// NormalizeText trims surrounding whitespace and applies Unicode NFC so that
// visually identical names compare equal.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Dedupe removes records equal across every field except the row id,
// keeping the first occurrence. It returns the kept records and the number
// removed.
func Dedupe(records []core.CleanRecord) ([]core.CleanRecord, int) {
	seen := make(map[string]struct{}, len(records))
	out := make([]core.CleanRecord, 0, len(records))
	for i := range records {
		k := recordKey(&records[i])
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, records[i])
	}
	return out, len(records) - len(out)
}

func recordKey(r *core.CleanRecord) string {
	parts := make(core.NaturalKey, 0, len(core.CleanColumns))
	for _, c := range core.CleanColumns {
		if c.Name == core.ColRowID {
			continue
		}
		v := c.Value(r)
		if v == nil {
			// Distinguish a missing quantity from an empty string.
			parts = append(parts, "\x00")
			continue
		}
		parts = append(parts, core.FormatValue(v))
	}
	return parts.String()
}

func parseDateColumn(raw *core.RawRecord, column string, order DateOrder) (core.Date, error) {
	d, err := ParseDate(raw.Get(column), order)
	if err != nil {
		var fe *core.FormatError
		if errors.As(err, &fe) {
			fe.Line = raw.Line
			fe.Column = column
		}
		return core.Date{}, err
	}
	return d, nil
}

func parseQuantity(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrSyntax
	}
	return int64(f), nil
}

func reasonOf(err error) string {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return ReasonValidation
	}
	return ReasonFormat
}

func issueOf(line int, reason string, err error) Issue {
	is := Issue{Line: line, Reason: reason, Err: err}
	var fe *core.FormatError
	var ve *core.ValidationError
	switch {
	case errors.As(err, &fe):
		is.Column = fe.Column
	case errors.As(err, &ve):
		is.Column = ve.Column
	}
	return is
}

// SortedReasons returns the skip reasons in a stable order for reporting.
func (r *Result) SortedReasons() []string {
	out := make([]string, 0, len(r.SkippedByReason))
	for k := range r.SkippedByReason {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
