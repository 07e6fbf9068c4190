// Package fingerprint derives a stable 32-bit content hash from a
// username and customization: a fixed-order canonical serialization
// fed to a non-cryptographic digest. See canonical.go for the
// serialization and hash.go for the digest.
package fingerprint

import (
	"sort"
	"strings"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
)

const noneSentinel = "none"

// canonicalize writes the fixed-order, sentinel-filled token stream for
// (username, customization) into b. Slot keys are emitted in their
// declaration order; missing optional slots become the "none" sentinel;
// tattoo sub-slots follow in their own fixed order; a trailing token
// records the chroma-key mode so the two modes never share a
// fingerprint.
func canonicalize(b *strings.Builder, username string, c *avatar.Customization) {
	b.WriteString("user=")
	b.WriteString(username)
	b.WriteByte('\n')

	b.WriteString("sex=")
	b.WriteString(c.Sex.String())
	b.WriteByte('\n')

	writeInt(b, "bodyVariant", c.BodyVariant)
	writeInt(b, "skinTone", c.SkinTone)

	for i := 0; i < avatar.SlotCount; i++ {
		name := avatar.SlotName(i)
		writeSlot(b, name.String(), c.Slots[i])
	}

	for i := 0; i < avatar.TattooSlotCount; i++ {
		name := avatar.TattooSlotName(i)
		writeSlot(b, "tattoo."+name.String(), c.Tattoos.Slots[i])
	}

	writeInt(b, "chroma", int(c.ChromaKey))
}

func writeInt(b *strings.Builder, key string, v int) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(itoa(v))
	b.WriteByte('\n')
}

func writeSlot(b *strings.Builder, key string, s avatar.Slot) {
	b.WriteString(key)
	b.WriteByte('=')
	if s.Empty() {
		b.WriteString(noneSentinel)
		b.WriteByte('\n')
		return
	}
	b.WriteString(s.Item)
	if len(s.Attributes) > 0 {
		keys := make([]string, 0, len(s.Attributes))
		for k := range s.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(s.Attributes[k])
		}
	}
	b.WriteByte('\n')
}

// itoa avoids pulling in strconv for a single call site used on a hot
// path; customization canonicalization runs on every cache lookup.
func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Canonical returns the canonical serialization of (username,
// customization) as a string. Exported for tests and for callers that
// want to inspect the exact bytes fed to the hash.
func Canonical(username string, c *avatar.Customization) string {
	var b strings.Builder
	canonicalize(&b, username, c)
	return b.String()
}
