// Package sqlite is the SQLite audit backend (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"votermatch/internal/storage"
)

// Repo implements storage.AuditRepository for SQLite. Timestamps are stored
// as RFC3339Nano UTC text, which sorts chronologically.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens cfg.DSN (a file path or "file:" URI) and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.AuditRepository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureAuditTable creates the table if missing.
func (r *Repo) EnsureAuditTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, buildCreateSQL(table)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// InsertAuditRows inserts rows with INSERT OR IGNORE on the primary key.
func (r *Repo) InsertAuditRows(ctx context.Context, table string, rows []storage.AuditRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, args := buildInsertSQL(table, rows)
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return res.RowsAffected()
}

func buildCreateSQL(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + sqlIdent(table) + ` (
	run_id TEXT NOT NULL,
	row_index INTEGER NOT NULL,
	key_hash TEXT NOT NULL,
	birth_year INTEGER NOT NULL,
	status TEXT NOT NULL,
	matched_id TEXT NOT NULL,
	candidate_count INTEGER NOT NULL,
	candidate_ids TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (run_id, row_index)
)`
}

func buildInsertSQL(table string, rows []storage.AuditRow) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT OR IGNORE INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range storage.AuditColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	n := len(storage.AuditColumns)
	row := "(" + storage.Placeholders(n, 0, storage.Question) + ")"
	args := make([]any, 0, len(rows)*n)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
		vals := r.Values()
		vals[n-1] = formatSQLiteTime(r.CreatedAt)
		args = append(args, vals...)
	}
	return b.String(), args
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
