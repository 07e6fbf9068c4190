package fingerprint

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
)

// Fingerprint derives a stable 32-bit content hash from (username,
// customization). It is the low 32 bits of the xxhash64 digest of the
// canonical serialization; xxhash is already present in this module's
// dependency graph via the SQLite driver, and a 32-bit truncation is
// enough for a cache key that tolerates ~2^-32 collisions. Byte-identical
// canonical forms always produce identical fingerprints; any
// observable change to a slot, an attribute, or the chroma-key mode
// changes the canonical form and, with overwhelming probability, the
// fingerprint.
func Fingerprint(username string, c *avatar.Customization) uint32 {
	var b strings.Builder
	canonicalize(&b, username, c)
	return uint32(xxhash.Sum64String(b.String()))
}
