package cleaner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/starschema/internal/testutil"
	"github.com/leapstack-labs/starschema/pkg/core"
)

func rawRow(line int, mutate func(r *core.RawRecord)) core.RawRecord {
	r := core.RawRecord{
		Line:         line,
		RowID:        "1",
		OrderID:      "CA-2016-152156",
		OrderDate:    "08/11/2016",
		ShipDate:     "11/11/2016",
		ShipMode:     "Second Class",
		CustomerID:   "CG-12520",
		CustomerName: "Claire Gute",
		Segment:      "Consumer",
		Country:      "United States",
		City:         "Henderson",
		State:        "Kentucky",
		PostalCode:   "42420",
		Region:       "South",
		ProductID:    "FUR-BO-10001798",
		Category:     "Furniture",
		SubCategory:  "Bookcases",
		ProductName:  "Bush Somerset Collection Bookcase",
		Sales:        "261.96",
	}
	if mutate != nil {
		mutate(&r)
	}
	return r
}

func TestCheckColumns(t *testing.T) {
	full := []string{
		"Row ID", "Order ID", "Order Date", "Ship Date", "Ship Mode", "Customer ID",
		"Customer Name", "Segment", "Country", "City", "State", "Postal Code",
		"Region", "Product ID", "Category", "Sub-Category", "Product Name", "Sales",
	}

	t.Run("superstore header", func(t *testing.T) {
		assert.NoError(t, CheckColumns(full))
	})

	t.Run("missing columns listed", func(t *testing.T) {
		err := CheckColumns(full[:10])
		var sm *core.SchemaMismatchError
		require.ErrorAs(t, err, &sm)
		assert.Contains(t, sm.Missing, core.ColPostalCode)
		assert.Contains(t, sm.Missing, core.ColSales)
		assert.NotContains(t, sm.Missing, core.ColRowID)
		assert.True(t, errors.Is(err, core.ErrInput))
	})
}

func TestClean_ValidRow(t *testing.T) {
	res, err := Clean([]core.RawRecord{rawRow(1, func(r *core.RawRecord) {
		r.OrderDate = "03/15/2016"
	})}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, "2016-03-15", rec.OrderDate.String())
	assert.Equal(t, "2016-11-11", rec.ShipDate.String())
	assert.InDelta(t, 261.96, rec.Sales, 1e-9)
	assert.Equal(t, int64(1), rec.RowID)
	assert.Nil(t, rec.Quantity)
	assert.Equal(t, 0, res.Skipped)
}

func TestClean_SkipsInvalidPostalCode(t *testing.T) {
	rows := make([]core.RawRecord, 0, 40)
	for i := 1; i <= 40; i++ {
		rows = append(rows, rawRow(i, func(r *core.RawRecord) {
			r.OrderID = "ORD-" + string(rune('A'+i%26)) + string(rune('A'+i/26))
		}))
	}
	rows = append(rows, rawRow(41, func(r *core.RawRecord) { r.PostalCode = "AB123" }))

	res, err := Clean(rows, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 41, res.Total)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.SkippedByReason[ReasonValidation])
	assert.Len(t, res.Records, 40)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, 41, res.Issues[0].Line)
	assert.Equal(t, core.ColPostalCode, res.Issues[0].Column)
}

func TestClean_SkipRateThreshold(t *testing.T) {
	rows := []core.RawRecord{
		rawRow(1, nil),
		rawRow(2, func(r *core.RawRecord) { r.OrderDate = "not a date" }),
		rawRow(3, func(r *core.RawRecord) { r.Sales = "abc" }),
	}

	_, err := Clean(rows, DefaultOptions())
	var dq *core.DataQualityError
	require.ErrorAs(t, err, &dq)
	assert.Equal(t, 3, dq.Total)
	assert.Equal(t, 2, dq.Skipped)
	assert.Equal(t, 2, dq.ByReason[ReasonFormat])

	opts := DefaultOptions()
	opts.MaxSkipRate = 0.9
	opts.Logger = testutil.NewTestLogger(t)
	res, err := Clean(rows, opts)
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
}

func TestClean_RequiredIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *core.RawRecord)
		column string
	}{
		{"empty order id", func(r *core.RawRecord) { r.OrderID = "  " }, core.ColOrderID},
		{"empty customer id", func(r *core.RawRecord) { r.CustomerID = "" }, core.ColCustomerID},
		{"empty product id", func(r *core.RawRecord) { r.ProductID = "" }, core.ColProductID},
		{"empty ship mode", func(r *core.RawRecord) { r.ShipMode = "" }, core.ColShipMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CleanRecord(ptr(rawRow(7, tt.mutate)), DefaultOptions())
			var ve *core.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.column, ve.Column)
			assert.Equal(t, 7, ve.Line)
			assert.True(t, errors.Is(err, core.ErrBadRow))
		})
	}
}

func TestCleanRecord_Fields(t *testing.T) {
	rec, err := CleanRecord(ptr(rawRow(3, func(r *core.RawRecord) {
		r.RowID = ""
		r.CustomerName = "  Claire Gute "
		r.Quantity = "2.0"
		r.PostalCode = "2801"
	})), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.RowID, "row id falls back to the line number")
	assert.Equal(t, "Claire Gute", rec.CustomerName)
	require.NotNil(t, rec.Quantity)
	assert.Equal(t, int64(2), *rec.Quantity)
	assert.Equal(t, "02801", rec.PostalCode)
}

func TestNormalizeText_NFC(t *testing.T) {
	decomposed := "Jose\u0301"
	assert.Equal(t, "Jos\u00e9", NormalizeText(" "+decomposed+" "))
}

func TestDedupe(t *testing.T) {
	base, err := CleanRecord(ptr(rawRow(1, nil)), DefaultOptions())
	require.NoError(t, err)

	dupe := base
	dupe.RowID = 99
	dupe.Line = 2

	other := base
	other.Sales = 10
	other.Line = 3

	out, removed := Dedupe([]core.CleanRecord{base, dupe, other, base})
	assert.Equal(t, 2, removed)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Line)
	assert.Equal(t, 3, out[1].Line)
}

func TestDedupe_QuantityNilVsZero(t *testing.T) {
	base, err := CleanRecord(ptr(rawRow(1, nil)), DefaultOptions())
	require.NoError(t, err)
	withQty := base
	zero := int64(0)
	withQty.Quantity = &zero

	out, removed := Dedupe([]core.CleanRecord{base, withQty})
	assert.Equal(t, 0, removed)
	assert.Len(t, out, 2)
}

func ptr[T any](v T) *T { return &v }
