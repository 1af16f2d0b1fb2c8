package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Canonical column names of the flat source relation.
const (
	ColRowID        = "row_id"
	ColOrderID      = "order_id"
	ColOrderDate    = "order_date"
	ColShipDate     = "ship_date"
	ColShipMode     = "ship_mode"
	ColCustomerID   = "customer_id"
	ColCustomerName = "customer_name"
	ColSegment      = "segment"
	ColCountry      = "country"
	ColCity         = "city"
	ColState        = "state"
	ColPostalCode   = "postal_code"
	ColRegion       = "region"
	ColProductID    = "product_id"
	ColCategory     = "category"
	ColSubCategory  = "sub_category"
	ColProductName  = "product_name"
	ColSales        = "sales"
	ColQuantity     = "quantity"
)

// UnknownPostalCode stands in for a missing postal code when the cleaner is
// configured to keep such rows.
const UnknownPostalCode = "UNKNOWN"

// RequiredColumns are the source columns that must be present in the input
// header. row_id and quantity are optional.
var RequiredColumns = []string{
	ColOrderID, ColOrderDate, ColShipDate, ColShipMode,
	ColCustomerID, ColCustomerName, ColSegment,
	ColCountry, ColCity, ColState, ColPostalCode, ColRegion,
	ColProductID, ColCategory, ColSubCategory, ColProductName,
	ColSales,
}

// OptionalColumns are recognized but may be absent.
var OptionalColumns = []string{ColRowID, ColQuantity}

// CanonicalColumnName folds a source header ("Sub-Category", "Order ID",
// "postal_code") onto the canonical snake_case name. Unknown names are
// returned folded but otherwise untouched.
func CanonicalColumnName(header string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.TrimSpace(header) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// RawRecord is one row of the source table, every field exactly as read.
type RawRecord struct {
	// Line is the 1-based data line in the source (header excluded).
	Line int

	RowID        string
	OrderID      string
	OrderDate    string
	ShipDate     string
	ShipMode     string
	CustomerID   string
	CustomerName string
	Segment      string
	Country      string
	City         string
	State        string
	PostalCode   string
	Region       string
	ProductID    string
	Category     string
	SubCategory  string
	ProductName  string
	Sales        string
	Quantity     string
}

// Set assigns a field by canonical column name.
// Returns false if the column is not part of the source layout.
func (r *RawRecord) Set(column, value string) bool {
	if p := r.field(column); p != nil {
		*p = value
		return true
	}
	return false
}

// Get returns a field by canonical column name.
func (r *RawRecord) Get(column string) string {
	if p := r.field(column); p != nil {
		return *p
	}
	return ""
}

func (r *RawRecord) field(column string) *string {
	switch column {
	case ColRowID:
		return &r.RowID
	case ColOrderID:
		return &r.OrderID
	case ColOrderDate:
		return &r.OrderDate
	case ColShipDate:
		return &r.ShipDate
	case ColShipMode:
		return &r.ShipMode
	case ColCustomerID:
		return &r.CustomerID
	case ColCustomerName:
		return &r.CustomerName
	case ColSegment:
		return &r.Segment
	case ColCountry:
		return &r.Country
	case ColCity:
		return &r.City
	case ColState:
		return &r.State
	case ColPostalCode:
		return &r.PostalCode
	case ColRegion:
		return &r.Region
	case ColProductID:
		return &r.ProductID
	case ColCategory:
		return &r.Category
	case ColSubCategory:
		return &r.SubCategory
	case ColProductName:
		return &r.ProductName
	case ColSales:
		return &r.Sales
	case ColQuantity:
		return &r.Quantity
	}
	return nil
}

// CleanRecord is a RawRecord after normalization: atomic, typed fields.
type CleanRecord struct {
	Line int

	// RowID is the source row id, or the data line number when the input
	// has no row id column.
	RowID        int64
	OrderID      string
	OrderDate    Date
	ShipDate     Date
	ShipMode     string
	CustomerID   string
	CustomerName string
	Segment      string
	Country      string
	City         string
	State        string
	PostalCode   string
	Region       string
	ProductID    string
	Category     string
	SubCategory  string
	ProductName  string
	Sales        float64
	// Quantity is nil when the input carries no quantity.
	Quantity *int64
}

// CleanColumn describes one column of the cleaned relation.
type CleanColumn struct {
	Name string
	Type ColumnType
	// Value returns the typed cell value (int64, float64, string, Date or nil).
	Value func(*CleanRecord) any
}

// Text renders the column value of r as a string, the form used for natural
// keys and equality checks.
func (c CleanColumn) Text(r *CleanRecord) string {
	return FormatValue(c.Value(r))
}

// CleanColumns is the ordered column layout of the cleaned (1NF) relation.
var CleanColumns = []CleanColumn{
	{ColRowID, TypeInteger, func(r *CleanRecord) any { return r.RowID }},
	{ColOrderID, TypeText, func(r *CleanRecord) any { return r.OrderID }},
	{ColOrderDate, TypeDate, func(r *CleanRecord) any { return r.OrderDate }},
	{ColShipDate, TypeDate, func(r *CleanRecord) any { return r.ShipDate }},
	{ColShipMode, TypeText, func(r *CleanRecord) any { return r.ShipMode }},
	{ColCustomerID, TypeText, func(r *CleanRecord) any { return r.CustomerID }},
	{ColCustomerName, TypeText, func(r *CleanRecord) any { return r.CustomerName }},
	{ColSegment, TypeText, func(r *CleanRecord) any { return r.Segment }},
	{ColCountry, TypeText, func(r *CleanRecord) any { return r.Country }},
	{ColCity, TypeText, func(r *CleanRecord) any { return r.City }},
	{ColState, TypeText, func(r *CleanRecord) any { return r.State }},
	{ColPostalCode, TypeText, func(r *CleanRecord) any { return r.PostalCode }},
	{ColRegion, TypeText, func(r *CleanRecord) any { return r.Region }},
	{ColProductID, TypeText, func(r *CleanRecord) any { return r.ProductID }},
	{ColCategory, TypeText, func(r *CleanRecord) any { return r.Category }},
	{ColSubCategory, TypeText, func(r *CleanRecord) any { return r.SubCategory }},
	{ColProductName, TypeText, func(r *CleanRecord) any { return r.ProductName }},
	{ColSales, TypeDecimal, func(r *CleanRecord) any { return r.Sales }},
	{ColQuantity, TypeInteger, func(r *CleanRecord) any {
		if r.Quantity == nil {
			return nil
		}
		return *r.Quantity
	}},
}

// LookupCleanColumn finds a cleaned-relation column by canonical name.
func LookupCleanColumn(name string) (CleanColumn, bool) {
	for _, c := range CleanColumns {
		if c.Name == name {
			return c, true
		}
	}
	return CleanColumn{}, false
}

// FormatValue renders a table cell value as text. nil renders as "".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case Date:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
