// Package mssql is the SQL Server audit backend.
//
// It does not import a driver itself: the "sqlserver" driver is registered by
// internal/storage/all.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"votermatch/internal/storage"
)

// maxParams stays under SQL Server's 2100 parameters per statement.
const maxParams = 2000

// Repo implements storage.AuditRepository for SQL Server.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.AuditRepository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Repo{db: db}, nil
}

// Close releases database resources.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureAuditTable creates the table behind an OBJECT_ID guard.
func (r *Repo) EnsureAuditTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, buildCreateSQL(table)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// InsertAuditRows inserts rows in chunks that respect the parameter limit,
// inside one transaction. Rows already present for (run_id, row_index) are
// skipped.
func (r *Repo) InsertAuditRows(ctx context.Context, table string, rows []storage.AuditRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, chunk := range chunkRows(rows, rowsPerStatement()) {
		q, args := buildInsertSQL(table, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func rowsPerStatement() int {
	return maxParams / len(storage.AuditColumns)
}

func chunkRows(rows []storage.AuditRow, size int) [][]storage.AuditRow {
	var out [][]storage.AuditRow
	for len(rows) > size {
		out = append(out, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}

func buildCreateSQL(table string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(table, "'", "''"),
		mssqlTableIdent(table),
		`run_id UNIQUEIDENTIFIER NOT NULL, `+
			`row_index INT NOT NULL, `+
			`key_hash CHAR(64) NOT NULL, `+
			`birth_year INT NOT NULL, `+
			`status NVARCHAR(16) NOT NULL, `+
			`matched_id NVARCHAR(64) NOT NULL, `+
			`candidate_count INT NOT NULL, `+
			`candidate_ids NVARCHAR(MAX) NOT NULL, `+
			`created_at DATETIME2 NOT NULL, `+
			`PRIMARY KEY (run_id, row_index)`,
	)
}

// buildInsertSQL materializes rows as a VALUES derived table and inserts the
// ones whose (run_id, row_index) is not already present.
func buildInsertSQL(table string, rows []storage.AuditRow) (string, []any) {
	cols := make([]string, len(storage.AuditColumns))
	for i, c := range storage.AuditColumns {
		cols[i] = mssqlIdent(c)
	}
	colList := strings.Join(cols, ", ")
	tbl := mssqlTableIdent(table)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tbl)
	b.WriteString(" (")
	b.WriteString(colList)
	b.WriteString(") SELECT ")
	b.WriteString("V." + strings.Join(cols, ", V."))
	b.WriteString(" FROM (VALUES ")

	n := len(storage.AuditColumns)
	args := make([]any, 0, len(rows)*n)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(storage.Placeholders(n, i*n, storage.AtP))
		b.WriteString(")")
		args = append(args, r.Values()...)
	}
	b.WriteString(") AS V (")
	b.WriteString(colList)
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(tbl)
	b.WriteString(" T WHERE T.[run_id] = V.[run_id] AND T.[row_index] = V.[row_index]);")
	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name:
// "dbo.audit" -> [dbo].[audit].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
