package postgres

import (
	"strings"
	"testing"
	"time"

	"votermatch/internal/storage"
)

func TestBuildInsertSQL_PlaceholdersAndConflict(t *testing.T) {
	ts := time.Unix(0, 0)
	rows := []storage.AuditRow{
		{RunID: "a", RowIndex: 0, Status: "matched", CreatedAt: ts},
		{RunID: "a", RowIndex: 1, Status: "unmatched", CreatedAt: ts},
	}

	sql, args := buildInsertSQL("audit.voter_match_audit", rows)

	if !strings.HasPrefix(sql, `INSERT INTO "audit"."voter_match_audit" ("run_id", "row_index",`) {
		t.Fatalf("unexpected prefix: %s", sql)
	}
	if !strings.Contains(sql, "($10, $11,") || !strings.Contains(sql, "$18)") {
		t.Fatalf("placeholders not continued across rows: %s", sql)
	}
	if strings.Contains(sql, "$19") {
		t.Fatalf("too many placeholders: %s", sql)
	}
	if !strings.HasSuffix(sql, "ON CONFLICT (run_id, row_index) DO NOTHING;") {
		t.Fatalf("missing conflict clause: %s", sql)
	}
	if len(args) != 18 {
		t.Fatalf("len(args)=%d, want 18", len(args))
	}
	if args[9] != "a" || args[10] != int64(1) {
		t.Fatalf("second row args misaligned: %v", args[9:11])
	}
}

func TestBuildCreateSQL(t *testing.T) {
	schemaSQL, tableSQL := buildCreateSQL("voter_match_audit")
	if schemaSQL != "" {
		t.Fatalf("unqualified table must not create a schema: %q", schemaSQL)
	}
	if !strings.Contains(tableSQL, `CREATE TABLE IF NOT EXISTS "voter_match_audit"`) {
		t.Fatalf("unexpected ddl: %s", tableSQL)
	}

	schemaSQL, _ = buildCreateSQL("audit.t")
	if schemaSQL != `CREATE SCHEMA IF NOT EXISTS "audit";` {
		t.Fatalf("schemaSQL=%q", schemaSQL)
	}
}

func TestPgIdentEscapes(t *testing.T) {
	if got := pgIdent(`a"b`); got != `"a""b"` {
		t.Fatalf("pgIdent=%s", got)
	}
}
