package builtin

import "testing"

func TestKeyHash_Deterministic(t *testing.T) {
	t.Parallel()

	a := KeyHash("JOHN PUBLIC", 1980)
	b := KeyHash("JOHN PUBLIC", 1980)
	if a != b {
		t.Fatalf("expected same hash; a=%q b=%q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex length 64, got %d (%q)", len(a), a)
	}
}

func TestKeyHash_ChangesWhenFieldChanges(t *testing.T) {
	t.Parallel()

	base := KeyHash("JOHN PUBLIC", 1980)
	if base == KeyHash("JOHN PUBLIC", 1981) {
		t.Fatalf("expected different hash when birth year differs")
	}
	if base == KeyHash("JANE PUBLIC", 1980) {
		t.Fatalf("expected different hash when name differs")
	}
}

func TestKeyHash_EmptyNameDistinct(t *testing.T) {
	t.Parallel()

	if KeyHash("", 1980) == KeyHash("1980", 0) {
		t.Fatalf("field-qualified canonical form must not collide")
	}
}
