package storage

import (
	"strconv"
	"strings"
	"unicode"
)

// RowHashColumn holds the full-row identity and carries the UNIQUE constraint.
const RowHashColumn = "row_hash"

// TablePrefix is prepended to the source name to form the table name.
const TablePrefix = "opencalls_"

// TableSpec describes one mirror table. Columns are SQL-safe names aligned to
// the record set's columns; RowHashColumn is implicit.
type TableSpec struct {
	Name    string
	Columns []string
}

// TableFor returns the mirror table for a source and its record columns.
func TableFor(source string, columns []string) TableSpec {
	return TableSpec{
		Name:    TablePrefix + SQLName(source),
		Columns: SQLColumns(columns),
	}
}

// SQLName lowercases s and replaces every run of characters outside
// [a-z0-9] with a single underscore. "Studios/Special Equipment" becomes
// "studios_special_equipment".
func SQLName(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "col"
	}
	return b.String()
}

// SQLColumns maps record columns to unique SQL names. Collisions (including
// with RowHashColumn) get a numeric suffix.
func SQLColumns(columns []string) []string {
	used := map[string]bool{RowHashColumn: true}
	out := make([]string, len(columns))
	for i, c := range columns {
		name := SQLName(c)
		base := name
		for n := 2; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// ChunkSize returns how many rows of width cols (plus the hash) fit under a
// backend's bind-parameter limit.
func ChunkSize(cols, maxParams int) int {
	n := maxParams / (cols + 1)
	if n < 1 {
		return 1
	}
	return n
}
