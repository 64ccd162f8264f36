// Package postgres is the Postgres audit backend, built on a pgx pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"votermatch/internal/storage"
)

// Repo implements storage.AuditRepository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New connects a pool to cfg.DSN and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.AuditRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() { r.pool.Close() }

// EnsureAuditTable creates the schema (when qualified) and the table.
func (r *Repo) EnsureAuditTable(ctx context.Context, table string) error {
	schemaSQL, tableSQL := buildCreateSQL(table)
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema for %s: %w", table, err)
		}
	}
	if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// InsertAuditRows inserts rows with ON CONFLICT (run_id, row_index) DO NOTHING.
func (r *Repo) InsertAuditRows(ctx context.Context, table string, rows []storage.AuditRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args := buildInsertSQL(table, rows)
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func buildCreateSQL(table string) (schemaSQL, tableSQL string) {
	if schema, _ := splitQualifiedName(table); schema != "" {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + pgIdent(schema) + ";"
	}
	tableSQL = "CREATE TABLE IF NOT EXISTS " + pgTableIdent(table) + ` (
	run_id UUID NOT NULL,
	row_index INTEGER NOT NULL,
	key_hash CHAR(64) NOT NULL,
	birth_year INTEGER NOT NULL,
	status TEXT NOT NULL,
	matched_id TEXT NOT NULL,
	candidate_count INTEGER NOT NULL,
	candidate_ids TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, row_index)
);`
	return schemaSQL, tableSQL
}

// buildInsertSQL is pure so placeholder numbering can be tested without a
// database.
func buildInsertSQL(table string, rows []storage.AuditRow) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	for i, c := range storage.AuditColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	n := len(storage.AuditColumns)
	args := make([]any, 0, len(rows)*n)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(storage.Placeholders(n, i*n, storage.Dollar))
		b.WriteString(")")
		args = append(args, row.Values()...)
	}
	b.WriteString(" ON CONFLICT (run_id, row_index) DO NOTHING;")
	return b.String(), args
}

func splitQualifiedName(name string) (schema, table string) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	if len(parts) != 2 {
		return "", strings.TrimSpace(name)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func pgTableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgIdent(table)
	}
	return pgIdent(schema) + "." + pgIdent(table)
}
