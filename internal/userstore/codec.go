package userstore

import (
	"encoding/json"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
)

// wireSlot and wireCustomization mirror avatar.Slot/Customization in a
// shape that survives JSON round-tripping through SQLite's TEXT
// column; avatar.Customization itself carries no JSON tags since the
// core package has no business knowing about serialization.
type wireSlot struct {
	Item       string            `json:"item,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type wireCustomization struct {
	Sex         int                              `json:"sex"`
	BodyVariant int                              `json:"bodyVariant"`
	SkinTone    int                              `json:"skinTone"`
	Slots       [avatar.SlotCount]wireSlot       `json:"slots"`
	Tattoos     [avatar.TattooSlotCount]wireSlot `json:"tattoos"`
	ChromaKey   int                              `json:"chromaKey"`
}

func encodeCustomization(c *avatar.Customization) (string, error) {
	w := wireCustomization{
		Sex:         int(c.Sex),
		BodyVariant: c.BodyVariant,
		SkinTone:    c.SkinTone,
		ChromaKey:   int(c.ChromaKey),
	}
	for i, s := range c.Slots {
		w.Slots[i] = wireSlot{Item: s.Item, Attributes: s.Attributes}
	}
	for i, s := range c.Tattoos.Slots {
		w.Tattoos[i] = wireSlot{Item: s.Item, Attributes: s.Attributes}
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCustomization(blob string) (*avatar.Customization, error) {
	var w wireCustomization
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return nil, err
	}
	c := &avatar.Customization{
		Sex:         avatar.Sex(w.Sex),
		BodyVariant: w.BodyVariant,
		SkinTone:    w.SkinTone,
		ChromaKey:   avatar.ChromaKeyMode(w.ChromaKey),
	}
	for i, s := range w.Slots {
		c.Slots[i] = avatar.Slot{Item: s.Item, Attributes: s.Attributes}
	}
	for i, s := range w.Tattoos {
		c.Tattoos.Slots[i] = avatar.Slot{Item: s.Item, Attributes: s.Attributes}
	}
	return c, nil
}
