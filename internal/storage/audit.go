// Package storage persists the per-row match audit trail behind a small
// backend-neutral interface. Backends register themselves by kind from init().
package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Config selects and connects an audit backend.
type Config struct {
	Kind string
	DSN  string
}

// AuditRow is one persisted match decision. KeyHash replaces the canonical
// name so no personal data is stored.
type AuditRow struct {
	RunID          string
	RowIndex       int
	KeyHash        string
	BirthYear      int
	Status         string
	MatchedID      string
	CandidateCount int
	CandidateIDs   string // comma-joined, ascending
	CreatedAt      time.Time
}

// AuditColumns is the column order used by every backend.
var AuditColumns = []string{
	"run_id",
	"row_index",
	"key_hash",
	"birth_year",
	"status",
	"matched_id",
	"candidate_count",
	"candidate_ids",
	"created_at",
}

// Values returns r in AuditColumns order. created_at is left as time.Time;
// backends that need text convert it themselves.
func (r AuditRow) Values() []any {
	return []any{
		r.RunID,
		int64(r.RowIndex),
		r.KeyHash,
		int64(r.BirthYear),
		r.Status,
		r.MatchedID,
		int64(r.CandidateCount),
		r.CandidateIDs,
		r.CreatedAt.UTC(),
	}
}

// AuditRepository persists match decisions.
type AuditRepository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureAuditTable creates table if it does not exist.
	EnsureAuditTable(ctx context.Context, table string) error

	// InsertAuditRows inserts rows in one statement (or as few as the backend's
	// parameter limit allows). Re-inserting a (run_id, row_index) pair is a no-op.
	InsertAuditRows(ctx context.Context, table string, rows []AuditRow) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (AuditRepository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available under kind. Backend packages call it
// from init(). It panics on an empty kind, a nil factory or a duplicate kind.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New connects the backend registered under cfg.Kind.
func New(ctx context.Context, cfg Config) (AuditRepository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}

// WriteAudit inserts rows in batches of batchSize (all at once when
// batchSize <= 0) and reports rows inserted and batches written. It stops at
// the first failing batch.
func WriteAudit(ctx context.Context, repo AuditRepository, table string, rows []AuditRow, batchSize int) (inserted int64, batches int, err error) {
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return inserted, batches, err
		}
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := repo.InsertAuditRows(ctx, table, rows[start:end])
		inserted += n
		if err != nil {
			return inserted, batches, fmt.Errorf("audit batch rows %d-%d: %w", start, end-1, err)
		}
		batches++
	}
	return inserted, batches, nil
}

// Placeholders renders n comma-separated placeholders produced by ph(i),
// where i is 1-based and continues from offset.
func Placeholders(n, offset int, ph func(i int) string) string {
	b := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, ph(offset+i+1)...)
	}
	return string(b)
}

// Dollar is the Postgres placeholder style ($1, $2, ...).
func Dollar(i int) string { return "$" + strconv.Itoa(i) }

// AtP is the SQL Server placeholder style (@p1, @p2, ...).
func AtP(i int) string { return "@p" + strconv.Itoa(i) }

// Question is the SQLite placeholder style.
func Question(int) string { return "?" }
