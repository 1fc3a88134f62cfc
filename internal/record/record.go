// Package record holds the canonical row types produced by source adapters.
package record

// Record is one normalized listing row keyed by column name.
//
// Records are built once by the extractor and treated as read-only afterwards.
type Record map[string]string

// Set is the ordered collection of records produced by one source run.
//
// All records in a Set expose exactly the keys listed in Columns; Append fills
// any missing column with "" so downstream writers never see ragged rows.
type Set struct {
	Source  string
	Columns []string
	Records []Record
}

// NewSet creates an empty Set for source with a fixed column order.
func NewSet(source string, columns []string) *Set {
	return &Set{
		Source:  source,
		Columns: append([]string(nil), columns...),
	}
}

// Append adds r to the set, normalizing it to the set's column keys.
func (s *Set) Append(r Record) {
	out := make(Record, len(s.Columns))
	for _, c := range s.Columns {
		out[c] = r[c]
	}
	s.Records = append(s.Records, out)
}

// Len returns the number of records in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Rows returns the records as positional rows aligned to Columns.
func (s *Set) Rows() [][]string {
	rows := make([][]string, 0, len(s.Records))
	for _, r := range s.Records {
		rows = append(rows, s.Row(r))
	}
	return rows
}

// Row returns r as a positional row aligned to Columns.
func (s *Set) Row(r Record) []string {
	row := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		row[i] = r[c]
	}
	return row
}

// WithRecords returns a shallow copy of s carrying recs instead of s.Records.
func (s *Set) WithRecords(recs []Record) *Set {
	return &Set{
		Source:  s.Source,
		Columns: s.Columns,
		Records: recs,
	}
}
