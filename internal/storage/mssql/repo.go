package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"opencalls/internal/storage"
)

// maxParams stays under SQL Server's 2100 parameter limit.
const maxParams = 2000

// maxValuesRows is SQL Server's limit on rows in one VALUES constructor.
const maxValuesRows = 1000

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Idempotence uses INSERT ... SELECT FROM (VALUES ...) WHERE NOT EXISTS on
// row_hash. Unlike ON CONFLICT this does not collapse duplicates inside one
// VALUES list, so callers must pass distinct hashes.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens the "sqlserver" driver registered by go-mssqldb and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: raw}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

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

func (r *Repo) InsertRows(ctx context.Context, t storage.TableSpec, rows [][]string, hashes []string) (int64, error) {
	if len(rows) != len(hashes) {
		return 0, fmt.Errorf("mssql: %d rows but %d hashes", len(rows), len(hashes))
	}

	var total int64
	step := min(storage.ChunkSize(len(t.Columns), maxParams), maxValuesRows)
	for start := 0; start < len(rows); start += step {
		end := min(start+step, len(rows))
		q, args := buildInsertNotExistsSQL(t, rows[start:end], hashes[start:end])
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", t.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	defs := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		defs = append(defs, mssqlIdent(c)+" NVARCHAR(MAX) NULL")
	}
	defs = append(defs,
		mssqlIdent(storage.RowHashColumn)+" CHAR(64) NOT NULL",
		"UNIQUE ("+mssqlIdent(storage.RowHashColumn)+")",
	)
	return wrapCreateIfMissing(t.Name, strings.Join(defs, ", ")), nil
}

// wrapCreateIfMissing wraps CREATE TABLE in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlIdent(tableName),
		innerDefs,
	)
}

// buildInsertNotExistsSQL materializes the rows as derived table v and
// inserts only those whose row_hash is not yet present.
func buildInsertNotExistsSQL(t storage.TableSpec, rows [][]string, hashes []string) (string, []any) {
	cols := append(append([]string(nil), t.Columns...), storage.RowHashColumn)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(t.Name))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") SELECT ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM (VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
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
			fmt.Fprintf(&b, "@p%d, ", p)
			args = append(args, v)
			p++
		}
		fmt.Fprintf(&b, "@p%d)", p)
		args = append(args, hashes[i])
		p++
	}

	b.WriteString(") AS v(")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlIdent(t.Name))
	b.WriteString(" t WHERE t.")
	b.WriteString(mssqlIdent(storage.RowHashColumn))
	b.WriteString(" = v.")
	b.WriteString(mssqlIdent(storage.RowHashColumn))
	b.WriteString(")")

	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// dbConn is the subset of *sql.DB the repo uses; tests substitute a fake.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

var _ dbConn = (*sql.DB)(nil)
