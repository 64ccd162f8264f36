package builtin

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// KeyHash returns a deterministic SHA-256 hex digest of a canonical match key.
//
// It is what the audit trail stores instead of the name itself, so decision
// rows can be grouped and compared across runs without persisting PII.
//
// Canonical form: "name=<name>\x1fbirth_year=<year>". Field names are included
// so an empty name cannot collide with a shifted value.
func KeyHash(name string, birthYear int) string {
	var b strings.Builder
	b.Grow(len(name) + 32)
	b.WriteString("name=")
	b.WriteString(name)
	b.WriteByte('\x1f')
	b.WriteString("birth_year=")
	b.WriteString(strconv.Itoa(birthYear))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
