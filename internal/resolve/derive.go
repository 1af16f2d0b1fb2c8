package resolve

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/starschema/pkg/core"
)

// Deriver computes the attribute columns of a dimension from its natural key.
type Deriver interface {
	// Columns returns the derived column layout for the determinant columns.
	Columns(determinant []core.CleanColumn) ([]core.TableColumn, error)
	// KeyColumns names the derived columns that carry the natural key.
	KeyColumns(determinant []core.CleanColumn) []string
	// Derive returns one row of attribute values for the typed key values.
	Derive(values []any) ([]any, error)
}

// derivers is fixed at build time; rules name one of these.
var derivers = map[string]Deriver{
	"calendar": calendarDeriver{},
	"identity": identityDeriver{},
}

// LookupDeriver returns a built-in deriver by name.
func LookupDeriver(name string) (Deriver, bool) {
	d, ok := derivers[name]
	return d, ok
}

// Derivers lists the deriver names (sorted).
func Derivers() []string {
	names := make([]string, 0, len(derivers))
	for n := range derivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// identityDeriver keeps the determinant values as the dimension attributes.
type identityDeriver struct{}

func (identityDeriver) Columns(determinant []core.CleanColumn) ([]core.TableColumn, error) {
	cols := make([]core.TableColumn, len(determinant))
	for i, c := range determinant {
		cols[i] = core.TableColumn{Name: c.Name, Type: c.Type}
	}
	return cols, nil
}

func (identityDeriver) KeyColumns(determinant []core.CleanColumn) []string {
	names := make([]string, len(determinant))
	for i, c := range determinant {
		names[i] = c.Name
	}
	return names
}

func (identityDeriver) Derive(values []any) ([]any, error) {
	out := make([]any, len(values))
	copy(out, values)
	return out, nil
}

// Calendar attribute columns of the date dimension.
const (
	ColFullDate   = "full_date"
	ColDateID     = "date_id"
	ColYear       = "year"
	ColQuarter    = "quarter"
	ColMonth      = "month"
	ColMonthName  = "month_name"
	ColDay        = "day"
	ColWeekday    = "weekday"
	ColWeekOfYear = "week_of_year"
)

// calendarDeriver expands a single date into calendar attributes.
type calendarDeriver struct{}

func (calendarDeriver) Columns(determinant []core.CleanColumn) ([]core.TableColumn, error) {
	if len(determinant) != 1 || determinant[0].Type != core.TypeDate {
		return nil, fmt.Errorf("calendar deriver needs exactly one date column")
	}
	return []core.TableColumn{
		{Name: ColFullDate, Type: core.TypeDate},
		{Name: ColDateID, Type: core.TypeInteger},
		{Name: ColYear, Type: core.TypeInteger},
		{Name: ColQuarter, Type: core.TypeInteger},
		{Name: ColMonth, Type: core.TypeInteger},
		{Name: ColMonthName, Type: core.TypeText},
		{Name: ColDay, Type: core.TypeInteger},
		{Name: ColWeekday, Type: core.TypeText},
		{Name: ColWeekOfYear, Type: core.TypeInteger},
	}, nil
}

func (calendarDeriver) KeyColumns([]core.CleanColumn) []string {
	return []string{ColFullDate}
}

func (calendarDeriver) Derive(values []any) ([]any, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("calendar deriver: expected one value, got %d", len(values))
	}
	d, ok := values[0].(core.Date)
	if !ok {
		return nil, fmt.Errorf("calendar deriver: expected a date, got %T", values[0])
	}
	t := d.Time()
	_, week := t.ISOWeek()
	return []any{
		d,
		d.ID(),
		int64(d.Year),
		int64(d.Quarter()),
		int64(d.Month),
		d.Month.String(),
		int64(d.Day),
		t.Weekday().String(),
		int64(week),
	}, nil
}
