package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/starschema/pkg/core"
)

func TestAssign_FirstSeen(t *testing.T) {
	m, err := Assign("customer", []core.NaturalKey{{"C9"}, {"C1"}, {"C9"}, {"C5"}}, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	tests := []struct {
		key  string
		want int64
	}{
		{"C9", 1},
		{"C1", 2},
		{"C5", 3},
	}
	for _, tt := range tests {
		id, ok := m.Lookup(core.NaturalKey{tt.key})
		require.True(t, ok, tt.key)
		assert.Equal(t, tt.want, id, tt.key)

		back, ok := m.Key(id)
		require.True(t, ok)
		assert.Equal(t, core.NaturalKey{tt.key}, back)
	}

	_, ok := m.Lookup(core.NaturalKey{"missing"})
	assert.False(t, ok)
	_, ok = m.Key(0)
	assert.False(t, ok)
	_, ok = m.Key(4)
	assert.False(t, ok)
}

func TestAssign_Base(t *testing.T) {
	m, err := Assign("product", []core.NaturalKey{{"a"}, {"b"}}, Options{Base: 100})
	require.NoError(t, err)
	id, _ := m.Lookup(core.NaturalKey{"b"})
	assert.Equal(t, int64(101), id)
	assert.Equal(t, int64(100), m.Base())
}

func TestAssign_SortedIgnoresInputOrder(t *testing.T) {
	opts := Options{Base: 1, Order: Sorted}
	a, err := Assign("region", []core.NaturalKey{{"West", "CA"}, {"East", "NY"}, {"Central", "TX"}}, opts)
	require.NoError(t, err)
	b, err := Assign("region", []core.NaturalKey{{"Central", "TX"}, {"West", "CA"}, {"East", "NY"}}, opts)
	require.NoError(t, err)

	assert.Equal(t, a.Keys(), b.Keys())
	assert.Equal(t, core.NaturalKey{"Central", "TX"}, a.Keys()[0])
}

func TestAssign_Dense(t *testing.T) {
	keys := make([]core.NaturalKey, 0, 50)
	for i := 0; i < 50; i++ {
		keys = append(keys, core.NaturalKey{string(rune('a' + i%26)), string(rune('A' + i/26))})
	}
	m, err := Assign("x", keys, DefaultOptions())
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for _, k := range m.Keys() {
		id, ok := m.Lookup(k)
		require.True(t, ok)
		assert.False(t, seen[id])
		seen[id] = true
	}
	for id := int64(1); id <= 50; id++ {
		assert.True(t, seen[id], "id %d missing", id)
	}
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("Sorted")
	require.NoError(t, err)
	assert.Equal(t, Sorted, o)

	o, err = ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, FirstSeen, o)

	_, err = ParseOrder("random")
	assert.Error(t, err)
}
