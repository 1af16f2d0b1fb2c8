// Package keys assigns dense surrogate keys to natural keys.
package keys

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/starschema/internal/extract"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// Order selects how natural keys are numbered.
type Order string

// Supported key orders.
const (
	// FirstSeen numbers keys in order of first appearance in the input.
	FirstSeen Order = "first_seen"
	// Sorted numbers keys in lexicographic order of their natural key, so
	// ids do not depend on input row order.
	Sorted Order = "sorted"
)

// ParseOrder validates a configured key order.
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case FirstSeen, "":
		return FirstSeen, nil
	case Sorted:
		return Sorted, nil
	}
	return "", fmt.Errorf("unknown key order %q (want first_seen or sorted)", s)
}

// Options configures key assignment.
type Options struct {
	// Base is the first surrogate key.
	Base  int64
	Order Order
}

// DefaultOptions numbers keys from 1 in first-seen order.
func DefaultOptions() Options {
	return Options{Base: 1, Order: FirstSeen}
}

// KeyMap is a bijection between natural keys and the surrogate keys
// Base..Base+Len-1. It is immutable once returned by Assign.
type KeyMap struct {
	name string
	base int64
	keys []core.NaturalKey
	ids  map[string]int64
}

// Assign numbers the distinct keys of one entity. Repeated keys receive the
// id of their first occurrence.
func Assign(name string, keys []core.NaturalKey, opts Options) (*KeyMap, error) {
	if opts.Order == "" {
		opts.Order = FirstSeen
	}

	distinct := make([]core.NaturalKey, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		enc := k.String()
		if _, ok := seen[enc]; ok {
			continue
		}
		seen[enc] = struct{}{}
		distinct = append(distinct, k)
	}

	switch opts.Order {
	case FirstSeen:
	case Sorted:
		sort.SliceStable(distinct, func(i, j int) bool {
			return distinct[i].Compare(distinct[j]) < 0
		})
	default:
		return nil, fmt.Errorf("unknown key order %q", opts.Order)
	}

	m := &KeyMap{
		name: name,
		base: opts.Base,
		keys: distinct,
		ids:  make(map[string]int64, len(distinct)),
	}
	byID := make(map[int64]core.NaturalKey, len(distinct))
	for i, k := range distinct {
		id := opts.Base + int64(i)
		if other, taken := byID[id]; taken {
			return nil, &core.KeyCollisionError{Entity: name, ID: id, First: other, Second: k}
		}
		byID[id] = k
		m.ids[k.String()] = id
	}
	if len(m.ids) != len(distinct) {
		return nil, fmt.Errorf("%w: %s key map is not injective", core.ErrInvariant, name)
	}
	return m, nil
}

// AssignEntity numbers the entries of an extracted entity.
func AssignEntity(e *extract.Entity, opts Options) (*KeyMap, error) {
	return Assign(e.Name(), e.Keys(), opts)
}

// Name returns the entity the map belongs to.
func (m *KeyMap) Name() string { return m.name }

// Base returns the first surrogate key.
func (m *KeyMap) Base() int64 { return m.base }

// Len returns the number of keys.
func (m *KeyMap) Len() int { return len(m.keys) }

// Lookup returns the surrogate key for a natural key.
func (m *KeyMap) Lookup(key core.NaturalKey) (int64, bool) {
	id, ok := m.ids[key.String()]
	return id, ok
}

// Key returns the natural key for a surrogate key.
func (m *KeyMap) Key(id int64) (core.NaturalKey, bool) {
	i := id - m.base
	if i < 0 || i >= int64(len(m.keys)) {
		return nil, false
	}
	return m.keys[i], true
}

// Keys returns the natural keys in surrogate key order.
func (m *KeyMap) Keys() []core.NaturalKey {
	out := make([]core.NaturalKey, len(m.keys))
	copy(out, m.keys)
	return out
}
