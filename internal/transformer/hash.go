// Package transformer derives row identities and removes duplicate records.
package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"opencalls/internal/record"
)

// RowHash returns the lowercase hex SHA-256 of row. Each value is written
// as "<byte length>:<value>" so no choice of values can shift a field
// boundary; two rows hash alike only when every value is equal.
func RowHash(row []string) string {
	h := sha256.New()
	for _, v := range row {
		h.Write([]byte(strconv.Itoa(len(v))))
		h.Write([]byte{':'})
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RecordHash hashes r over set's column order. It is the identity used both
// for CSV dedup and the SQL row_hash column.
func RecordHash(set *record.Set, r record.Record) string {
	return RowHash(set.Row(r))
}

// Dedup returns the records of set with full-row duplicates removed, keeping
// first-seen order, plus their hashes and the number of records dropped.
// set is not modified.
func Dedup(set *record.Set) (*record.Set, []string, int) {
	seen := make(map[string]struct{}, set.Len())
	kept := make([]record.Record, 0, set.Len())
	hashes := make([]string, 0, set.Len())

	for _, r := range set.Records {
		h := RecordHash(set, r)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		kept = append(kept, r)
		hashes = append(hashes, h)
	}
	return set.WithRecords(kept), hashes, set.Len() - len(kept)
}

// Hashes returns RecordHash for every record of set in order.
func Hashes(set *record.Set) []string {
	out := make([]string, 0, set.Len())
	for _, r := range set.Records {
		out = append(out, RecordHash(set, r))
	}
	return out
}
