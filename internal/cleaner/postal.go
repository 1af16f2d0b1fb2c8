package cleaner

import (
	"strings"

	"github.com/leapstack-labs/starschema/pkg/core"
)

// DefaultPostalCodeWidth is the width of a US ZIP code.
const DefaultPostalCodeWidth = 5

// StandardizePostalCode returns a fixed-width, zero-padded numeric code.
// Whitespace and a trailing ".0" left by float-typed spreadsheet exports are
// stripped first. Longer codes keep their first width digits.
// An empty code becomes core.UnknownPostalCode when allowMissing is set.
func StandardizePostalCode(raw string, width int, allowMissing bool) (string, error) {
	if width <= 0 {
		width = DefaultPostalCodeWidth
	}
	s := strings.Join(strings.Fields(raw), "")
	s = strings.TrimSuffix(s, ".0")

	if s == "" {
		if allowMissing {
			return core.UnknownPostalCode, nil
		}
		return "", &core.ValidationError{Column: core.ColPostalCode, Value: raw, Reason: "missing postal code"}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", &core.ValidationError{Column: core.ColPostalCode, Value: raw, Reason: "postal code must be numeric"}
		}
	}

	if len(s) > width {
		return s[:width], nil
	}
	return strings.Repeat("0", width-len(s)) + s, nil
}
