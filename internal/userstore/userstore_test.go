package userstore

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedAndGetUserRoundTrip(t *testing.T) {
	s := newTestStore(t)

	var c avatar.Customization
	c.Sex = avatar.SexMale
	c.SkinTone = 1
	c.Slots[avatar.SlotHair] = avatar.Slot{Item: "H1", Attributes: map[string]string{"color": "blonde"}}
	c.Tattoos.Slots[avatar.TattooArmLeft] = avatar.Slot{Item: "TAT1"}

	want := &avatar.User{Username: "alice", Customization: c, CustomizationHash: 42}
	if err := s.SeedUser(want); err != nil {
		t.Fatalf("SeedUser: %v", err)
	}

	got, err := s.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "alice" || got.CustomizationHash != 42 {
		t.Fatalf("unexpected user: %+v", got)
	}
	if got.Customization.Slots[avatar.SlotHair].Item != "H1" {
		t.Fatalf("hair slot not round-tripped: %+v", got.Customization.Slots[avatar.SlotHair])
	}
	if got.Customization.Slots[avatar.SlotHair].Attributes["color"] != "blonde" {
		t.Fatalf("hair attributes not round-tripped: %+v", got.Customization.Slots[avatar.SlotHair])
	}
	if got.Customization.Tattoos.Slots[avatar.TattooArmLeft].Item != "TAT1" {
		t.Fatalf("tattoo slot not round-tripped: %+v", got.Customization.Tattoos.Slots[avatar.TattooArmLeft])
	}
}

func TestGetUserUnknownReturnsNoRows(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser("nobody")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestRecordRenderUpdatesHashAndKeys(t *testing.T) {
	s := newTestStore(t)
	if err := s.SeedUser(&avatar.User{Username: "bob", Customization: avatar.Customization{}}); err != nil {
		t.Fatalf("SeedUser: %v", err)
	}

	if err := s.RecordRender("bob", 7, "user-avatar/bob.webp", "user-clothing/bob.webp", "user-thumbnail/bob.webp"); err != nil {
		t.Fatalf("RecordRender: %v", err)
	}

	got, err := s.GetUser("bob")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.CustomizationHash != 7 {
		t.Fatalf("expected hash 7, got %d", got.CustomizationHash)
	}
	if !got.HasPreviousRender() {
		t.Fatal("expected HasPreviousRender to be true after RecordRender")
	}
}

func TestSeedAndGetItem(t *testing.T) {
	s := newTestStore(t)
	if err := s.SeedItem(&avatar.Item{ID: "H1", Description: "cool hair !s"}); err != nil {
		t.Fatalf("SeedItem: %v", err)
	}
	item, err := s.GetItem("H1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.Description != "cool hair !s" {
		t.Fatalf("unexpected description: %q", item.Description)
	}
}
