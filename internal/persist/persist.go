// Package persist writes record sets to CSV and, when a repository is
// configured, mirrors the written rows into SQL.
package persist

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"opencalls/internal/metrics"
	"opencalls/internal/record"
	"opencalls/internal/storage"
	"opencalls/internal/transformer"

	"go.uber.org/zap"
)

// Persister writes record sets. Repo is optional.
type Persister struct {
	Logger *zap.Logger
	Repo   storage.Repository
}

// Result describes one persisted set.
type Result struct {
	Path     string
	Written  int
	Dropped  int
	Mirrored int64
}

func (p *Persister) logger() *zap.Logger {
	if p == nil || p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Persist removes full-row duplicates (first occurrence wins) and writes the
// header and the remaining rows to dest. An empty set is logged and nothing
// is written.
func (p *Persister) Persist(ctx context.Context, set *record.Set, dest string) (Result, error) {
	if set.Len() == 0 {
		p.warnEmpty(set, dest)
		return Result{Path: dest}, nil
	}
	kept, hashes, dropped := transformer.Dedup(set)
	res, err := p.write(ctx, kept, hashes, dest)
	res.Dropped = dropped
	return res, err
}

// PersistAll writes every record of set without removing duplicates, for
// callers that already guarantee one row per item.
func (p *Persister) PersistAll(ctx context.Context, set *record.Set, dest string) (Result, error) {
	if set.Len() == 0 {
		p.warnEmpty(set, dest)
		return Result{Path: dest}, nil
	}
	return p.write(ctx, set, transformer.Hashes(set), dest)
}

func (p *Persister) warnEmpty(set *record.Set, dest string) {
	source := ""
	if set != nil {
		source = set.Source
	}
	p.logger().Warn("no records to save, skipping write", zap.String("source", source), zap.String("path", dest))
}

func (p *Persister) write(ctx context.Context, set *record.Set, hashes []string, dest string) (Result, error) {
	log := p.logger()
	res := Result{Path: dest}

	if err := WriteCSV(dest, set.Columns, set.Rows()); err != nil {
		return res, err
	}
	res.Written = set.Len()
	metrics.RecordRecords(set.Source, res.Written)
	log.Info("saved records", zap.String("source", set.Source), zap.String("path", dest), zap.Int("rows", res.Written))

	if p.Repo != nil {
		n, err := p.mirror(ctx, set, hashes)
		if err != nil {
			log.Error("sql mirror failed", zap.String("source", set.Source), zap.Error(err))
		} else {
			res.Mirrored = n
			log.Info("mirrored records", zap.String("source", set.Source), zap.Int64("inserted", n))
		}
	}
	return res, nil
}

// mirror inserts rows with distinct hashes; the repository contract does not
// accept duplicate hashes in one batch.
func (p *Persister) mirror(ctx context.Context, set *record.Set, hashes []string) (int64, error) {
	table := storage.TableFor(set.Source, set.Columns)
	if err := p.Repo.EnsureTable(ctx, table); err != nil {
		return 0, fmt.Errorf("ensure table %s: %w", table.Name, err)
	}

	rows := set.Rows()
	seen := make(map[string]struct{}, len(hashes))
	outRows := make([][]string, 0, len(rows))
	outHashes := make([]string, 0, len(hashes))
	for i, h := range hashes {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		outRows = append(outRows, rows[i])
		outHashes = append(outHashes, h)
	}

	n, err := p.Repo.InsertRows(ctx, table, outRows, outHashes)
	if err != nil {
		return n, fmt.Errorf("insert into %s: %w", table.Name, err)
	}
	return n, nil
}

// WriteCSV writes header and rows to path, replacing any existing file. The
// file is written next to path and renamed into place.
func WriteCSV(path string, header []string, rows [][]string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	_ = tmp.Chmod(0o644)
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err = w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err = w.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
