package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"opencalls/internal/storage"
)

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER (32766 in modernc builds).
const maxParams = 32000

// Repo implements storage.Repository for SQLite. Every column has TEXT
// affinity; duplicates are dropped with INSERT OR IGNORE against the
// UNIQUE row_hash.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureTable(ctx context.Context, t storage.TableSpec) error {
	ddl, err := buildCreateSQL(t)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	return nil
}

// InsertRows writes all chunks in one transaction.
func (r *Repo) InsertRows(ctx context.Context, t storage.TableSpec, rows [][]string, hashes []string) (int64, error) {
	if len(rows) != len(hashes) {
		return 0, fmt.Errorf("sqlite: %d rows but %d hashes", len(rows), len(hashes))
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	step := storage.ChunkSize(len(t.Columns), maxParams)
	for start := 0; start < len(rows); start += step {
		end := min(start+step, len(rows))
		q, args := buildInsertSQL(t, rows[start:end], hashes[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", t.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	parts := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		parts = append(parts, sqlIdent(c)+" TEXT")
	}
	parts = append(parts, sqlIdent(storage.RowHashColumn)+" TEXT NOT NULL UNIQUE")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(t.Name), strings.Join(parts, ", ")), nil
}

func buildInsertSQL(t storage.TableSpec, rows [][]string, hashes []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT OR IGNORE INTO ")
	b.WriteString(sqlIdent(t.Name))
	b.WriteString(" (")
	for _, c := range t.Columns {
		b.WriteString(sqlIdent(c))
		b.WriteString(", ")
	}
	b.WriteString(sqlIdent(storage.RowHashColumn))
	b.WriteString(") VALUES ")

	ph := "(" + strings.Repeat("?, ", len(t.Columns)) + "?)"
	args := make([]any, 0, len(rows)*(len(t.Columns)+1))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ph)
		for j := range t.Columns {
			if j < len(row) {
				args = append(args, row[j])
			} else {
				args = append(args, "")
			}
		}
		args = append(args, hashes[i])
	}
	return b.String(), args
}
