// Package csv reads the tabular inputs of the pipeline: link lists for the
// detail crawl and previously written source CSVs for enrichment.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"opencalls/internal/record"
)

// LinkColumn is the header that holds URLs in a link list.
const LinkColumn = "Link"

// ErrColumnNotFound reports a missing required header.
var ErrColumnNotFound = errors.New("column not found")

// normalizeHeader trims the header, strips a UTF-8 BOM and returns the
// canonical match key (lowercase, spaces as underscores).
func normalizeHeader(h string) (clean, key string) {
	clean = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	key = strings.ReplaceAll(strings.ToLower(clean), " ", "_")
	return clean, key
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// ReadRecords reads a header-first CSV into a record set named source. Header
// names are trimmed and a leading BOM is dropped; cell values are kept as
// written. Malformed lines are reported to onErr (when non-nil) and skipped.
func ReadRecords(ctx context.Context, r io.Reader, source string, onErr func(line int, err error)) (*record.Set, error) {
	cr := newReader(r)

	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return record.NewSet(source, nil), nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(hdr))
	for i, h := range hdr {
		cols[i], _ = normalizeHeader(h)
	}

	set := record.NewSet(source, cols)
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return set, err
		}
		line++
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return set, nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}
		rec := make(record.Record, len(cols))
		for i, c := range cols {
			if i < len(row) {
				rec[c] = row[i]
			}
		}
		set.Append(rec)
	}
}

// ReadLinks returns the non-empty, trimmed values of column in file order.
// Header matching ignores case, surrounding space and space/underscore
// differences.
func ReadLinks(r io.Reader, column string) ([]string, error) {
	cr := newReader(r)

	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %q (empty file)", ErrColumnNotFound, column)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	_, want := normalizeHeader(column)
	idx := -1
	for i, h := range hdr {
		if _, key := normalizeHeader(h); key == want {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}

	var links []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return links, nil
		}
		if err != nil {
			return links, fmt.Errorf("csv read: %w", err)
		}
		if idx >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[idx]); v != "" {
			links = append(links, v)
		}
	}
}

// LoadLinks opens path and reads the named link column.
func LoadLinks(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open link list: %w", err)
	}
	defer f.Close()
	links, err := ReadLinks(f, column)
	if err != nil {
		return links, fmt.Errorf("read link list %s: %w", path, err)
	}
	return links, nil
}

// LoadRecords opens path and reads it as a record set.
func LoadRecords(ctx context.Context, path, source string, onErr func(line int, err error)) (*record.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadRecords(ctx, f, source, onErr)
}
