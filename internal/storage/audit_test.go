package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRepo struct {
	batches [][]AuditRow
	failAt  int
	closed  int
}

func (f *fakeRepo) Close() { f.closed++ }

func (f *fakeRepo) EnsureAuditTable(ctx context.Context, table string) error { return nil }

func (f *fakeRepo) InsertAuditRows(ctx context.Context, table string, rows []AuditRow) (int64, error) {
	if f.failAt > 0 && len(f.batches)+1 == f.failAt {
		return 0, errors.New("insert failed")
	}
	f.batches = append(f.batches, rows)
	return int64(len(rows)), nil
}

func rows(n int) []AuditRow {
	out := make([]AuditRow, n)
	for i := range out {
		out[i] = AuditRow{RunID: "r", RowIndex: i}
	}
	return out
}

func TestWriteAudit_Batches(t *testing.T) {
	f := &fakeRepo{}
	n, b, err := WriteAudit(context.Background(), f, "t", rows(5), 2)
	if err != nil {
		t.Fatalf("WriteAudit: %v", err)
	}
	if n != 5 || b != 3 {
		t.Fatalf("inserted=%d batches=%d, want 5/3", n, b)
	}
	if len(f.batches[2]) != 1 || f.batches[2][0].RowIndex != 4 {
		t.Fatalf("unexpected last batch: %+v", f.batches[2])
	}
}

func TestWriteAudit_SingleBatchWhenSizeUnset(t *testing.T) {
	f := &fakeRepo{}
	_, b, err := WriteAudit(context.Background(), f, "t", rows(3), 0)
	if err != nil || b != 1 {
		t.Fatalf("batches=%d err=%v", b, err)
	}
}

func TestWriteAudit_StopsOnError(t *testing.T) {
	f := &fakeRepo{failAt: 2}
	n, b, err := WriteAudit(context.Background(), f, "t", rows(5), 2)
	if err == nil {
		t.Fatalf("expected error")
	}
	if n != 2 || b != 1 {
		t.Fatalf("inserted=%d batches=%d, want 2/1", n, b)
	}
}

func TestNew_UnknownKind(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("expected error for unregistered kind")
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (AuditRepository, error) { return &fakeRepo{}, nil }
	Register("test-dup", f)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate kind")
		}
	}()
	Register("test-dup", f)
}

func TestAuditRowValues_Order(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	v := AuditRow{RunID: "r", RowIndex: 1, KeyHash: "h", BirthYear: 1980, Status: "matched", MatchedID: "OH1", CandidateCount: 1, CandidateIDs: "OH1", CreatedAt: ts}.Values()
	if len(v) != len(AuditColumns) {
		t.Fatalf("len(values)=%d, len(columns)=%d", len(v), len(AuditColumns))
	}
	if v[8].(time.Time).Location() != time.UTC {
		t.Fatalf("created_at must be UTC")
	}
}

func TestPlaceholders(t *testing.T) {
	if got := Placeholders(3, 0, Dollar); got != "$1, $2, $3" {
		t.Fatalf("got %q", got)
	}
	if got := Placeholders(2, 9, AtP); got != "@p10, @p11" {
		t.Fatalf("got %q", got)
	}
	if got := Placeholders(2, 0, Question); got != "?, ?" {
		t.Fatalf("got %q", got)
	}
}
