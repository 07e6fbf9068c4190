package fingerprint

import (
	"testing"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
)

func sampleCustomization() avatar.Customization {
	var c avatar.Customization
	c.Sex = avatar.SexFemale
	c.BodyVariant = 1
	c.SkinTone = 3
	c.Slots[avatar.SlotHair] = avatar.Slot{Item: "hair_001"}
	c.Slots[avatar.SlotTop] = avatar.Slot{Item: "top_042", Attributes: map[string]string{"color": "red"}}
	c.Tattoos.Slots[avatar.TattooArmLeft] = avatar.Slot{Item: "tat_7"}
	return c
}

func TestFingerprintStable(t *testing.T) {
	c := sampleCustomization()
	a := Fingerprint("alice", &c)
	b := Fingerprint("alice", &c)
	if a != b {
		t.Fatalf("fingerprint not stable: %d != %d", a, b)
	}
}

func TestFingerprintChangesOnSlotChange(t *testing.T) {
	c := sampleCustomization()
	base := Fingerprint("alice", &c)

	c2 := c
	c2.Slots[avatar.SlotTop] = avatar.Slot{Item: "top_099"}
	changed := Fingerprint("alice", &c2)

	if base == changed {
		t.Fatalf("expected fingerprint to change when top slot changes")
	}
}

func TestFingerprintChangesOnAttributeChange(t *testing.T) {
	c := sampleCustomization()
	base := Fingerprint("alice", &c)

	c2 := c
	c2.Slots[avatar.SlotTop] = avatar.Slot{Item: "top_042", Attributes: map[string]string{"color": "blue"}}
	changed := Fingerprint("alice", &c2)

	if base == changed {
		t.Fatalf("expected fingerprint to change when only an attribute changes")
	}
}

func TestFingerprintChangesOnTattooChange(t *testing.T) {
	c := sampleCustomization()
	base := Fingerprint("alice", &c)

	c2 := c
	c2.Tattoos.Slots[avatar.TattooArmLeft] = avatar.Slot{Item: "tat_8"}
	changed := Fingerprint("alice", &c2)

	if base == changed {
		t.Fatalf("expected fingerprint to change when a tattoo sub-slot changes")
	}
}

func TestFingerprintChangesOnChromaKeyMode(t *testing.T) {
	c := sampleCustomization()
	base := Fingerprint("alice", &c)

	c2 := c
	c2.ChromaKey = avatar.ChromaKeyOn
	changed := Fingerprint("alice", &c2)

	if base == changed {
		t.Fatalf("expected fingerprint to change when chroma-key mode changes")
	}
}

func TestFingerprintChangesOnUsername(t *testing.T) {
	c := sampleCustomization()
	a := Fingerprint("alice", &c)
	b := Fingerprint("bob", &c)
	if a == b {
		t.Fatalf("expected fingerprint to differ across usernames")
	}
}

func TestAttributeOrderDoesNotAffectCanonicalForm(t *testing.T) {
	var c1, c2 avatar.Customization
	c1.Slots[avatar.SlotTop] = avatar.Slot{Item: "t", Attributes: map[string]string{"a": "1", "b": "2"}}
	c2.Slots[avatar.SlotTop] = avatar.Slot{Item: "t", Attributes: map[string]string{"b": "2", "a": "1"}}

	if Canonical("alice", &c1) != Canonical("alice", &c2) {
		t.Fatalf("expected map iteration order not to affect canonical form")
	}
}
