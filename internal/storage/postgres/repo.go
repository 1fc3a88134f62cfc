package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"opencalls/internal/storage"
)

// maxParams stays under the protocol limit of 65535 bind parameters.
const maxParams = 65000

// Repo implements storage.Repository for Postgres over a pgx pool.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTable creates the table in the connection's search_path schema.
func (r *Repo) EnsureTable(ctx context.Context, t storage.TableSpec) error {
	tableSQL, err := buildCreateSQL(t)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	return nil
}

// InsertRows inserts in chunks inside one transaction using
// ON CONFLICT (row_hash) DO NOTHING.
func (r *Repo) InsertRows(ctx context.Context, t storage.TableSpec, rows [][]string, hashes []string) (int64, error) {
	if len(rows) != len(hashes) {
		return 0, fmt.Errorf("postgres: %d rows but %d hashes", len(rows), len(hashes))
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var total int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		step := storage.ChunkSize(len(t.Columns), maxParams)
		for start := 0; start < len(rows); start += step {
			end := min(start+step, len(rows))
			q, args := buildInsertSQL(t, rows[start:end], hashes[start:end])
			tag, err := tx.Exec(ctx, q, args...)
			if err != nil {
				return fmt.Errorf("insert into %s: %w", t.Name, err)
			}
			total += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// pgIdent quotes an identifier, escaping embedded double quotes.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}

	defs := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		defs = append(defs, pgIdent(c)+" TEXT NOT NULL DEFAULT ''")
	}
	defs = append(defs,
		pgIdent(storage.RowHashColumn)+" CHAR(64) NOT NULL",
		"UNIQUE ("+pgIdent(storage.RowHashColumn)+")",
	)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", pgIdent(t.Name), strings.Join(defs, ", ")), nil
}

// buildInsertSQL is pure so placeholder numbering can be tested without a
// database.
func buildInsertSQL(t storage.TableSpec, rows [][]string, hashes []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(t.Name))
	b.WriteString(" (")
	for _, c := range t.Columns {
		b.WriteString(pgIdent(c))
		b.WriteString(", ")
	}
	b.WriteString(pgIdent(storage.RowHashColumn))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*(len(t.Columns)+1))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range t.Columns {
			v := ""
			if j < len(row) {
				v = row[j]
			}
			fmt.Fprintf(&b, "$%d, ", p)
			args = append(args, v)
			p++
		}
		fmt.Fprintf(&b, "$%d)", p)
		args = append(args, hashes[i])
		p++
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(pgIdent(storage.RowHashColumn))
	b.WriteString(") DO NOTHING;")
	return b.String(), args
}
