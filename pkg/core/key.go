package core

import (
	"strconv"
	"strings"
)

// NaturalKey is an ordered tuple of source-domain identifier values.
type NaturalKey []string

// String encodes the key so that distinct tuples never share an encoding:
// each part is written as <len>:<value>, so ("a|b") and ("a", "b") differ.
func (k NaturalKey) String() string {
	var b strings.Builder
	for i, part := range k {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// Display joins the parts for human-readable diagnostics.
func (k NaturalKey) Display() string {
	return strings.Join(k, " / ")
}

// Equal reports whether both keys hold the same parts in the same order.
func (k NaturalKey) Equal(other NaturalKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// Compare orders keys part by part, lexicographically.
func (k NaturalKey) Compare(other NaturalKey) int {
	for i := 0; i < len(k) && i < len(other); i++ {
		if c := strings.Compare(k[i], other[i]); c != 0 {
			return c
		}
	}
	return len(k) - len(other)
}
