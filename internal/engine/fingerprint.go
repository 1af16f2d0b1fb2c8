package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/leapstack-labs/starschema/pkg/core"
)

// Fingerprint hashes the column layout and every cell of a table. Equal
// tables hash equal regardless of the table name.
func Fingerprint(t *core.Table) string {
	h := sha256.New()
	for _, c := range t.Columns() {
		writeField(h, c.Name)
		writeField(h, string(c.Type))
	}
	for i := 0; i < t.Len(); i++ {
		for _, v := range t.Row(i) {
			if v == nil {
				// Tagged apart from the empty string.
				_, _ = h.Write([]byte{0})
				continue
			}
			_, _ = h.Write([]byte{1})
			writeField(h, core.FormatValue(v))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [binary.MaxVarintLen64]byte
	_, _ = h.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
	_, _ = h.Write([]byte(s))
}

// tableStats summarizes tables for the run history.
func tableStats(tables []*core.Table) []core.TableStat {
	stats := make([]core.TableStat, len(tables))
	for i, t := range tables {
		stats[i] = core.TableStat{TableName: t.Name(), RowCount: t.Len(), Fingerprint: Fingerprint(t)}
	}
	return stats
}
